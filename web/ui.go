package web

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
)

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>s7link</title></head>
<body>
<h1>s7link</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="POST" action="/login">
<input type="text" name="username" placeholder="username" required>
<input type="password" name="password" placeholder="password" required>
<button type="submit">Log in</button>
</form>
</body></html>`))

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html><head><title>s7link</title></head>
<body>
<h1>s7link dashboard</h1>
<p>Logged in as {{.Username}} ({{.Role}}) &middot; <a href="/logout">log out</a></p>
<table border="1" cellpadding="4">
<tr><th>PLC</th><th>Address</th><th>Status</th><th>Model</th></tr>
{{range .PLCs}}
<tr><td>{{.Name}}</td><td>{{.Address}}</td><td>{{.Status}}</td><td>{{.ProductName}}</td></tr>
{{end}}
</table>
</body></html>`))

func (s *Server) newUIRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLoginSubmit)
	r.Get("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireLogin)
		r.Get("/", s.handleDashboard)
	})

	return r
}

func (s *Server) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := s.sessions.getUser(r); !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	loginTmpl.Execute(w, map[string]string{})
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	user := s.deps.Config.FindWebUser(username)
	if user == nil || !checkPassword(password, user.PasswordHash) {
		loginTmpl.Execute(w, map[string]string{"Error": "invalid username or password"})
		return
	}

	if err := s.sessions.setUser(w, r, user.Username, user.Role); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.clear(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	username, role, _ := s.sessions.getUser(r)

	plcs := s.deps.PLCMan.ListPLCs()
	rows := make([]PLCResponse, 0, len(plcs))
	for _, plc := range plcs {
		rows = append(rows, plcSummary(plc))
	}

	dashboardTmpl.Execute(w, map[string]interface{}{
		"Username": username,
		"Role":     role,
		"PLCs":     rows,
	})
}
