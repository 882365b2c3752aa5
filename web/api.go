package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"s7link/plcman"
)

// PLCResponse is the JSON response for PLC info.
type PLCResponse struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Slot        byte   `json:"slot"`
	Status      string `json:"status"`
	ProductName string `json:"product_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TagResponse is the JSON response for a tag value.
type TagResponse struct {
	PLC       string      `json:"plc"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// HealthResponse is the JSON structure for PLC health status.
type HealthResponse struct {
	PLC       string `json:"plc"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteRequest is the JSON request for writing a tag value.
type WriteRequest struct {
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after writing a tag value.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// SZLResponse is the JSON response for a SZL fetch.
type SZLResponse struct {
	PLC     string          `json:"plc"`
	ID      uint16          `json:"id"`
	Records []SZLRecordJSON `json:"records"`
}

// SZLRecordJSON is one SZL record, hex-encoded for transport.
type SZLRecordJSON struct {
	Index uint16 `json:"index"`
	Data  string `json:"data"`
}

// RuleResponse is the JSON response for rule status.
type RuleResponse struct {
	Name       string `json:"name"`
	LogicMode  string `json:"logic_mode"`
	Conditions int    `json:"conditions"`
	Actions    int    `json:"actions"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	FireCount  int64  `json:"fire_count"`
	LastFire   string `json:"last_fire,omitempty"`
}

func (s *Server) newAPIRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/plcs", s.handleListPLCs)
	r.Route("/plcs/{plc}", func(r chi.Router) {
		r.Get("/", s.handlePLCDetails)
		r.Get("/health", s.handlePLCHealth)
		r.Get("/tags", s.handleAllTags)
		r.Get("/tags/{tag}", s.handleSingleTag)
		r.Post("/tags/{tag}/write", s.handleWrite)
		r.Get("/szl/{id}", s.handleSZL)
	})

	r.Get("/rules", s.handleListRules)

	r.Get("/tagpack", s.handlePackList)
	r.Get("/tagpack/{name}", s.handlePackDetails)

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	plcs := s.deps.PLCMan.ListPLCs()
	response := make([]PLCResponse, 0, len(plcs))

	for _, plc := range plcs {
		response = append(response, plcSummary(plc))
	}

	writeJSON(w, response)
}

func plcSummary(plc *plcman.ManagedPLC) PLCResponse {
	resp := PLCResponse{
		Name:    plc.Config.Name,
		Address: plc.Config.Address,
		Slot:    plc.Config.Slot,
		Status:  plc.GetStatus().String(),
	}
	if info := plc.GetDeviceInfo(); info != nil {
		resp.ProductName = info.Model
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) lookupPLC(w http.ResponseWriter, r *http.Request) *plcman.ManagedPLC {
	name, _ := url.PathUnescape(chi.URLParam(r, "plc"))
	plc := s.deps.PLCMan.GetPLC(name)
	if plc == nil {
		writeError(w, http.StatusNotFound, "PLC not found")
		return nil
	}
	return plc
}

func (s *Server) handlePLCDetails(w http.ResponseWriter, r *http.Request) {
	plc := s.lookupPLC(w, r)
	if plc == nil {
		return
	}
	writeJSON(w, plcSummary(plc))
}

func (s *Server) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	plc := s.lookupPLC(w, r)
	if plc == nil {
		return
	}

	health := plc.GetHealthStatus()
	writeJSON(w, HealthResponse{
		PLC:       plc.Config.Name,
		Online:    health.Online,
		Status:    health.Status,
		Error:     health.Error,
		Timestamp: health.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) handleAllTags(w http.ResponseWriter, r *http.Request) {
	plc := s.lookupPLC(w, r)
	if plc == nil {
		return
	}

	values := plc.GetValues()
	response := make(map[string]TagResponse, len(values))

	for _, sel := range plc.Config.Tags {
		if !sel.Enabled || sel.NoREST {
			continue
		}
		key := sel.Name
		if sel.Alias != "" {
			key = sel.Alias
		}
		resp := TagResponse{PLC: plc.Config.Name, Name: key}
		if v, ok := values[sel.Name]; ok {
			resp.Type = v.TypeName()
			resp.Value = v.GoValue()
			if v.Error != nil {
				resp.Error = v.Error.Error()
			}
		}
		response[key] = resp
	}

	writeJSON(w, response)
}

func (s *Server) handleSingleTag(w http.ResponseWriter, r *http.Request) {
	plc := s.lookupPLC(w, r)
	if plc == nil {
		return
	}
	tagName, _ := url.PathUnescape(chi.URLParam(r, "tag"))

	address := tagName
	for _, sel := range plc.Config.Tags {
		if sel.Alias == tagName {
			address = sel.Name
			break
		}
	}

	v, err := s.deps.PLCMan.ReadTag(plc.Config.Name, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "tag not found")
		return
	}

	resp := TagResponse{PLC: plc.Config.Name, Name: tagName, Type: v.TypeName(), Value: v.GoValue()}
	if v.Error != nil {
		resp.Error = v.Error.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	plc := s.lookupPLC(w, r)
	if plc == nil {
		return
	}
	tagName, _ := url.PathUnescape(chi.URLParam(r, "tag"))

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	found, writable := plc.GetTagInfo(tagName)
	if !found {
		writeError(w, http.StatusNotFound, "tag not found")
		return
	}
	if !writable {
		writeError(w, http.StatusForbidden, "tag is not writable")
		return
	}

	resultChan := make(chan error, 1)
	go func() {
		resultChan <- s.deps.PLCMan.WriteTag(plc.Config.Name, tagName, req.Value)
	}()

	var writeErr error
	select {
	case writeErr = <-resultChan:
	case <-time.After(3 * time.Second):
		writeErr = fmt.Errorf("write timeout: PLC did not respond within 3 seconds")
	}

	resp := WriteResponse{
		PLC:       plc.Config.Name,
		Tag:       tagName,
		Value:     req.Value,
		Success:   writeErr == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if writeErr != nil {
		resp.Error = writeErr.Error()
		w.WriteHeader(http.StatusInternalServerError)
	}
	writeJSON(w, resp)
}

func (s *Server) handleSZL(w http.ResponseWriter, r *http.Request) {
	plc := s.lookupPLC(w, r)
	if plc == nil {
		return
	}

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 0, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid SZL id")
		return
	}

	client := plc.GetClient()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "PLC not connected")
		return
	}

	records, err := client.ReadSZL(uint16(id), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := SZLResponse{PLC: plc.Config.Name, ID: uint16(id)}
	for _, rec := range records {
		resp.Records = append(resp.Records, SZLRecordJSON{Index: rec.Index, Data: fmt.Sprintf("%x", rec.Data)})
	}
	writeJSON(w, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if s.deps.RuleMgr == nil {
		writeJSON(w, []RuleResponse{})
		return
	}

	infos := s.deps.RuleMgr.GetAllRuleInfo()
	response := make([]RuleResponse, 0, len(infos))
	for _, info := range infos {
		resp := RuleResponse{
			Name:       info.Name,
			LogicMode:  string(info.LogicMode),
			Conditions: info.Conditions,
			Actions:    info.Actions,
			Status:     info.Status.String(),
			FireCount:  info.FireCount,
		}
		if info.Error != nil {
			resp.Error = info.Error.Error()
		}
		if !info.LastFire.IsZero() {
			resp.LastFire = info.LastFire.Format(time.RFC3339)
		}
		response = append(response, resp)
	}
	writeJSON(w, response)
}

func (s *Server) handlePackList(w http.ResponseWriter, r *http.Request) {
	if s.deps.PackMgr == nil {
		writeJSON(w, []interface{}{})
		return
	}
	packs := s.deps.PackMgr.ListPacks()
	writeJSON(w, packs)
}

func (s *Server) handlePackDetails(w http.ResponseWriter, r *http.Request) {
	if s.deps.PackMgr == nil {
		writeError(w, http.StatusNotFound, "pack not found")
		return
	}
	name, _ := url.PathUnescape(chi.URLParam(r, "name"))
	pv := s.deps.PackMgr.GetPackValue(name)
	if pv == nil {
		writeError(w, http.StatusNotFound, "pack not found")
		return
	}
	writeJSON(w, pv)
}
