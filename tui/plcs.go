package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"s7link/config"
	"s7link/logging"
	"s7link/plcman"
	"s7link/s7"
)

// PLCsTab handles the PLCs management tab.
type PLCsTab struct {
	app        *App
	flex       *tview.Flex
	table      *tview.Table
	tableFrame *tview.Frame
	statusBar  *tview.TextView
	buttons    *tview.Flex
	buttonBar  *tview.TextView
}

// NewPLCsTab creates a new PLCs tab.
func NewPLCsTab(app *App) *PLCsTab {
	t := &PLCsTab{app: app}
	t.setupUI()
	t.Refresh()
	return t
}

func (t *PLCsTab) setupUI() {
	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	ApplyTableTheme(t.table)

	t.table.SetSelectedFunc(t.onSelect)
	t.table.SetInputCapture(t.handleKeys)

	headers := []string{"", "Name", "Address", "Rack/Slot", "Status", "Product"}
	for i, h := range headers {
		t.table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(CurrentTheme.Accent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()
	t.buttons = tview.NewFlex().AddItem(t.buttonBar, 0, 1, false)

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(CurrentTheme.Text)

	t.tableFrame = tview.NewFrame(t.table).
		SetBorders(1, 0, 0, 0, 1, 1)
	t.tableFrame.SetBorder(true).SetTitle(" PLCs ").SetBorderColor(CurrentTheme.Border).SetTitleColor(CurrentTheme.Accent)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttons, 1, 0, false).
		AddItem(t.tableFrame, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

func (t *PLCsTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'd':
		t.discover()
		return nil
	case 'a':
		t.showAddDialog()
		return nil
	case 'e':
		t.showEditDialog()
		return nil
	case 'x':
		t.removeSelected()
		return nil
	case 'c':
		t.connectSelected()
		return nil
	case 'C':
		t.disconnectSelected()
		return nil
	case 'i':
		t.showInfoDialog()
		return nil
	}
	return event
}

// getSelectedPLCName returns the name of the currently selected PLC from the table.
func (t *PLCsTab) getSelectedPLCName() string {
	row, _ := t.table.GetSelection()
	if row <= 0 {
		return ""
	}
	cell := t.table.GetCell(row, 1)
	if cell == nil {
		return ""
	}
	return cell.Text
}

func (t *PLCsTab) onSelect(row, col int) {
	if row <= 0 {
		return
	}
	name := t.table.GetCell(row, 1).Text
	if name == "" {
		return
	}
	plc := t.app.manager.GetPLC(name)
	if plc == nil {
		return
	}
	if plc.GetStatus() == plcman.StatusConnected {
		if cfg := t.app.config.FindPLC(name); cfg != nil {
			cfg.Enabled = false
			t.app.SaveConfig()
		}
		go t.app.manager.Disconnect(name)
	} else {
		if cfg := t.app.config.FindPLC(name); cfg != nil {
			cfg.Enabled = true
			t.app.SaveConfig()
		}
		go t.app.manager.Connect(name)
	}
}

// GetPrimitive returns the main primitive for this tab.
func (t *PLCsTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *PLCsTab) GetFocusable() tview.Primitive {
	return t.table
}

// updateButtonBar updates the button bar text with current theme colors.
func (t *PLCsTab) updateButtonBar() {
	th := CurrentTheme
	buttonText := " " + th.TagHotkey + "d" + th.TagActionText + "iscover  " +
		th.TagHotkey + "a" + th.TagActionText + "dd  " +
		th.TagHotkey + "e" + th.TagActionText + "dit  " +
		th.TagHotkey + "x" + th.TagActionText + " remove  " +
		th.TagHotkey + "c" + th.TagActionText + "onnect  dis" +
		th.TagHotkey + "C" + th.TagActionText + "onnect  " +
		th.TagHotkey + "i" + th.TagActionText + "nfo  " +
		th.TagActionText + "│  " +
		th.TagHotkey + "?" + th.TagActionText + " help  " +
		th.TagHotkey + "Shift+Tab" + th.TagActionText + " next tab "
	t.buttonBar.SetText(buttonText)
}

// RefreshTheme updates the tab's UI elements to match the current theme.
func (t *PLCsTab) RefreshTheme() {
	t.updateButtonBar()
	th := CurrentTheme
	t.tableFrame.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.statusBar.SetTextColor(th.Text)
	ApplyTableTheme(t.table)
	for i := 0; i < t.table.GetColumnCount(); i++ {
		if cell := t.table.GetCell(0, i); cell != nil {
			cell.SetTextColor(th.Accent)
		}
	}
}

// Refresh updates the display.
func (t *PLCsTab) Refresh() {
	for t.table.GetRowCount() > 1 {
		t.table.RemoveRow(1)
	}

	plcs := t.app.manager.ListPLCs()

	sort.Slice(plcs, func(i, j int) bool {
		return plcs[i].Config.Name < plcs[j].Config.Name
	})

	for i, plc := range plcs {
		row := i + 1

		indicatorCell := tview.NewTableCell(GetStatusBullet()).SetExpansion(0)
		switch plc.GetStatus() {
		case plcman.StatusConnected:
			indicatorCell.SetTextColor(IndicatorGreen)
		case plcman.StatusConnecting:
			indicatorCell.SetTextColor(tcell.ColorYellow)
		case plcman.StatusError:
			indicatorCell.SetTextColor(IndicatorRed)
		default:
			indicatorCell.SetTextColor(IndicatorGray)
		}

		productName := ""
		if info := plc.GetDeviceInfo(); info != nil {
			productName = escapeTviewText(info.Model)
		}

		rackSlot := fmt.Sprintf("%d/%d", plc.Config.Rack, plc.Config.Slot)

		t.table.SetCell(row, 0, indicatorCell)
		t.table.SetCell(row, 1, tview.NewTableCell(escapeTviewText(plc.Config.Name)).SetExpansion(1))
		t.table.SetCell(row, 2, tview.NewTableCell(plc.Config.Address).SetExpansion(1))
		t.table.SetCell(row, 3, tview.NewTableCell(rackSlot).SetExpansion(1))
		t.table.SetCell(row, 4, tview.NewTableCell(plc.GetStatus().String()).SetExpansion(1))
		t.table.SetCell(row, 5, tview.NewTableCell(productName).SetExpansion(1))
	}

	t.table.SetCell(0, 0, tview.NewTableCell("").SetSelectable(false))

	connected := 0
	for _, plc := range plcs {
		if plc.GetStatus() == plcman.StatusConnected {
			connected++
		}
	}

	stats := t.app.manager.GetPollStats()
	statusText := fmt.Sprintf(" %d PLCs, %d connected", len(plcs), connected)
	if !stats.LastPollTime.IsZero() {
		statusText += fmt.Sprintf(" | Poll: %d tags, %d changes", stats.TagsPolled, stats.ChangesFound)
		if stats.LastError != nil {
			statusText += fmt.Sprintf(" [red](err: %v)[-]", stats.LastError)
		}
	}
	t.statusBar.SetText(statusText)
}

// escapeTviewText removes characters that tview interprets as style tags
func escapeTviewText(s string) string {
	s = strings.ReplaceAll(s, "[", "")
	s = strings.ReplaceAll(s, "]", "")
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r < 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// discoveredDevicesCache holds cached discovered devices
var discoveredDevicesCache []s7.DiscoveredDevice
var discoveredDevicesCacheMu sync.Mutex

// discoveryInProgress tracks whether discovery is currently running
var discoveryInProgress bool
var discoveryInProgressMu sync.Mutex

func (t *PLCsTab) discover() {
	if t.app.isModalOpen() {
		t.app.setStatus("Close current dialog first")
		return
	}

	subnets := s7.GetLocalSubnets()

	t.app.setStatus("Scanning network for S7 PLCs...")

	discoveryInProgressMu.Lock()
	discoveryInProgress = true
	discoveryInProgressMu.Unlock()

	t.showDiscoveryModal()

	go t.runScan(subnets, func(count int) {
		t.app.setStatus(fmt.Sprintf("Discovery complete - %d device(s) found", count))
	})
}

// runScan scans subnets for S7 PLCs, appending unique devices to the cache.
func (t *PLCsTab) runScan(subnets []string, onDone func(count int)) {
	defer func() {
		discoveryInProgressMu.Lock()
		discoveryInProgress = false
		discoveryInProgressMu.Unlock()
	}()

	logging.DebugLog("tui", "Discovery: scanning %d local subnets: %v", len(subnets), subnets)

	var wg sync.WaitGroup
	addToCache := func(devices []s7.DiscoveredDevice) {
		discoveredDevicesCacheMu.Lock()
		for _, dev := range devices {
			found := false
			for _, cached := range discoveredDevicesCache {
				if cached.IP.Equal(dev.IP) && cached.Rack == dev.Rack && cached.Slot == dev.Slot {
					found = true
					break
				}
			}
			if !found {
				discoveredDevicesCache = append(discoveredDevicesCache, dev)
			}
		}
		discoveredDevicesCacheMu.Unlock()
	}

	for _, cidr := range subnets {
		wg.Add(1)
		go func(cidr string) {
			defer wg.Done()
			devices, err := s7.DiscoverSubnet(cidr, 500*time.Millisecond, 50)
			if err != nil {
				logging.DebugLog("tui", "Discovery: subnet %s failed: %v", cidr, err)
				return
			}
			logging.DebugLog("tui", "Discovery: subnet %s returned %d devices", cidr, len(devices))
			addToCache(devices)
		}(cidr)
	}
	wg.Wait()

	discoveredDevicesCacheMu.Lock()
	count := len(discoveredDevicesCache)
	discoveredDevicesCacheMu.Unlock()

	logging.DebugLog("tui", "Discovery: complete, total %d devices", count)

	t.app.QueueUpdateDraw(func() {
		onDone(count)
	})
}

func (t *PLCsTab) showDiscoveryModal() {
	const pageName = "discovery"

	th := CurrentTheme

	flex := tview.NewFlex().SetDirection(tview.FlexRow)
	flex.SetBorder(true)
	flex.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	flex.SetBackgroundColor(th.Background)
	flex.SetTitle(" Discovering S7 PLCs... ")

	filterInput := tview.NewInputField()
	filterInput.SetLabel(" Filter: ")
	filterInput.SetFieldWidth(40)
	filterInput.SetLabelColor(th.Text)
	filterInput.SetFieldBackgroundColor(th.FieldBackground)
	filterInput.SetFieldTextColor(th.FieldText)
	filterInput.SetBackgroundColor(th.Background)

	filterVisible := false
	currentFilter := ""

	table := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	ApplyTableTheme(table)

	headers := []string{"IP Address", "Rack", "Slot", "Identity"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(th.Accent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	var filteredIndices []int

	populateTable := func() {
		for table.GetRowCount() > 1 {
			table.RemoveRow(1)
		}
		filteredIndices = nil

		filter := strings.ToLower(currentFilter)

		discoveredDevicesCacheMu.Lock()
		devices := make([]s7.DiscoveredDevice, len(discoveredDevicesCache))
		copy(devices, discoveredDevicesCache)
		discoveredDevicesCacheMu.Unlock()

		for i, dev := range devices {
			ip := escapeTviewText(dev.IP.String())
			rack := strconv.Itoa(dev.Rack)
			slot := strconv.Itoa(dev.Slot)
			identity := escapeTviewText(dev.ProductName)

			if filter != "" {
				searchText := strings.ToLower(ip + rack + slot + identity)
				if !strings.Contains(searchText, filter) {
					continue
				}
			}

			filteredIndices = append(filteredIndices, i)
			row := len(filteredIndices)

			table.SetCell(row, 0, tview.NewTableCell(ip).SetExpansion(1))
			table.SetCell(row, 1, tview.NewTableCell(rack).SetExpansion(1))
			table.SetCell(row, 2, tview.NewTableCell(slot).SetExpansion(1))
			table.SetCell(row, 3, tview.NewTableCell(identity).SetExpansion(2))
		}

		total := len(devices)
		discoveryInProgressMu.Lock()
		scanning := discoveryInProgress
		discoveryInProgressMu.Unlock()

		if filter != "" {
			if scanning {
				flex.SetTitle(fmt.Sprintf(" Scanning... (%d/%d) ", len(filteredIndices), total))
			} else {
				flex.SetTitle(fmt.Sprintf(" Discovered Devices (%d/%d) ", len(filteredIndices), total))
			}
		} else if scanning {
			if total == 0 {
				flex.SetTitle(" Scanning... ")
			} else {
				flex.SetTitle(fmt.Sprintf(" Scanning... (%d found) ", total))
			}
		} else {
			flex.SetTitle(fmt.Sprintf(" Discovered Devices (%d) ", total))
		}
	}

	populateTable()

	stopRefresh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopRefresh:
				return
			case <-ticker.C:
				discoveryInProgressMu.Lock()
				scanning := discoveryInProgress
				discoveryInProgressMu.Unlock()

				t.app.QueueUpdateDraw(func() {
					populateTable()
				})

				if !scanning {
					return
				}
			}
		}
	}()

	filterInput.SetChangedFunc(func(text string) {
		currentFilter = text
		populateTable()
	})

	rescanBtn := tview.NewButton("Rescan")
	ApplyButtonTheme(rescanBtn)

	closeBtn := tview.NewButton("Close")
	ApplyButtonTheme(closeBtn)

	clearBtn := tview.NewButton("Clear")
	ApplyButtonTheme(clearBtn)

	closeModal := func() {
		close(stopRefresh)
		t.app.closeModal(pageName)
	}

	closeBtn.SetSelectedFunc(closeModal)

	clearBtn.SetSelectedFunc(func() {
		discoveredDevicesCacheMu.Lock()
		discoveredDevicesCache = nil
		discoveredDevicesCacheMu.Unlock()
		populateTable()
		t.app.setStatus("Discovery cache cleared")
	})

	startRescan := func() {
		discoveryInProgressMu.Lock()
		alreadyScanning := discoveryInProgress
		discoveryInProgressMu.Unlock()
		if alreadyScanning {
			t.app.setStatus("Scan already in progress...")
			return
		}

		discoveredDevicesCacheMu.Lock()
		discoveredDevicesCache = nil
		discoveredDevicesCacheMu.Unlock()
		populateTable()

		discoveryInProgressMu.Lock()
		discoveryInProgress = true
		discoveryInProgressMu.Unlock()

		t.app.setStatus("Rescanning network...")

		go t.runScan(s7.GetLocalSubnets(), func(count int) {
			t.app.setStatus(fmt.Sprintf("Rescan complete - %d device(s) found", count))
		})
	}

	rescanBtn.SetSelectedFunc(startRescan)

	buttonFlex := tview.NewFlex().SetDirection(tview.FlexColumn)
	buttonFlex.SetBackgroundColor(th.Background)
	buttonFlex.AddItem(nil, 0, 1, false)
	buttonFlex.AddItem(rescanBtn, 10, 0, false)
	buttonFlex.AddItem(nil, 2, 0, false)
	buttonFlex.AddItem(clearBtn, 9, 0, false)
	buttonFlex.AddItem(nil, 2, 0, false)
	buttonFlex.AddItem(closeBtn, 9, 0, false)
	buttonFlex.AddItem(nil, 0, 1, false)

	helpText := tview.NewTextView()
	helpText.SetText(" /: Filter  r: Rescan  c: Clear  Enter: Add  Esc: Close")
	helpText.SetTextColor(th.TextDim)
	helpText.SetBackgroundColor(th.Background)
	helpText.SetTextAlign(tview.AlignCenter)

	flex.AddItem(table, 0, 1, true)
	flex.AddItem(helpText, 1, 0, false)
	flex.AddItem(buttonFlex, 1, 0, false)

	table.SetSelectedFunc(func(row, col int) {
		if row <= 0 || row-1 >= len(filteredIndices) {
			return
		}
		originalIndex := filteredIndices[row-1]
		discoveredDevicesCacheMu.Lock()
		if originalIndex < len(discoveredDevicesCache) {
			dev := discoveredDevicesCache[originalIndex]
			discoveredDevicesCacheMu.Unlock()
			closeModal()
			t.showAddDialogWithDevice(&dev)
			return
		}
		discoveredDevicesCacheMu.Unlock()
	})

	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			if filterVisible {
				filterVisible = false
				filterInput.SetText("")
				currentFilter = ""
				populateTable()
				flex.Clear()
				flex.AddItem(table, 0, 1, true)
				flex.AddItem(helpText, 1, 0, false)
				flex.AddItem(buttonFlex, 1, 0, false)
				t.app.app.SetFocus(table)
				return nil
			}
			closeModal()
			return nil
		case tcell.KeyTab:
			t.app.app.SetFocus(rescanBtn)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case '/':
				if !filterVisible {
					filterVisible = true
					flex.Clear()
					flex.AddItem(filterInput, 1, 0, true)
					flex.AddItem(table, 0, 1, false)
					flex.AddItem(helpText, 1, 0, false)
					flex.AddItem(buttonFlex, 1, 0, false)
					t.app.app.SetFocus(filterInput)
				}
				return nil
			case 'c', 'C':
				discoveredDevicesCacheMu.Lock()
				discoveredDevicesCache = nil
				discoveredDevicesCacheMu.Unlock()
				populateTable()
				t.app.setStatus("Discovery cache cleared")
				return nil
			case 'r', 'R':
				startRescan()
				return nil
			}
		}
		return event
	})

	filterInput.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			filterVisible = false
			filterInput.SetText("")
			currentFilter = ""
			populateTable()
			flex.Clear()
			flex.AddItem(table, 0, 1, true)
			flex.AddItem(helpText, 1, 0, false)
			flex.AddItem(buttonFlex, 1, 0, false)
			t.app.app.SetFocus(table)
			return nil
		case tcell.KeyEnter, tcell.KeyDown:
			t.app.app.SetFocus(table)
			return nil
		}
		return event
	})

	rescanBtn.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			closeModal()
			return nil
		case tcell.KeyTab:
			t.app.app.SetFocus(clearBtn)
			return nil
		case tcell.KeyBacktab:
			t.app.app.SetFocus(table)
			return nil
		}
		return event
	})
	clearBtn.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			closeModal()
			return nil
		case tcell.KeyTab:
			t.app.app.SetFocus(closeBtn)
			return nil
		case tcell.KeyBacktab:
			t.app.app.SetFocus(rescanBtn)
			return nil
		}
		return event
	})
	closeBtn.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			closeModal()
			return nil
		case tcell.KeyTab:
			t.app.app.SetFocus(table)
			return nil
		case tcell.KeyBacktab:
			t.app.app.SetFocus(clearBtn)
			return nil
		}
		return event
	})

	t.app.showCenteredModal(pageName, flex, 90, 22)
}

func (t *PLCsTab) showAddDialog() {
	t.showAddDialogWithDevice(nil)
}

// plcFormState holds the current state of the PLC form for rebuilding.
type plcFormState struct {
	name        string
	address     string
	rack        string
	slot        string
	pollRateMs  string // Poll rate in milliseconds (250-10000, empty = use global)
	timeoutMs   string // Connection timeout in milliseconds (empty = default)
	autoConnect bool
	healthCheck bool // Publish health status
}

func (t *PLCsTab) showAddDialogWithDevice(dev *s7.DiscoveredDevice) {
	state := &plcFormState{
		rack:        "0",
		slot:        "0",
		pollRateMs:  "1000",
		timeoutMs:   "5000",
		autoConnect: true,
		healthCheck: true,
	}

	if dev != nil {
		state.address = dev.IP.String()
		state.rack = strconv.Itoa(dev.Rack)
		state.slot = strconv.Itoa(dev.Slot)
	}

	t.buildAddForm(state)
}

func (t *PLCsTab) buildAddForm(state *plcFormState) {
	const pageName = "add"

	t.app.pages.RemovePage(pageName)

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(" Add PLC ")

	form.AddInputField("Name:", state.name, 30, nil, nil)
	form.AddInputField("Address:", state.address, 30, nil, nil)
	form.AddInputField("Rack:", state.rack, 5, acceptDigits, nil)
	form.AddInputField("Slot:", state.slot, 5, acceptDigits, nil)

	form.AddInputField("Poll Rate (ms):", state.pollRateMs, 10, func(text string, lastChar rune) bool {
		if text == "" {
			return true
		}
		_, err := strconv.Atoi(text)
		return err == nil
	}, nil)

	form.AddInputField("Timeout (ms):", state.timeoutMs, 10, func(text string, lastChar rune) bool {
		if text == "" {
			return true
		}
		_, err := strconv.Atoi(text)
		return err == nil
	}, nil)

	form.AddCheckbox("Auto-connect:", state.autoConnect, nil)
	form.AddCheckbox("Health check:", state.healthCheck, nil)

	form.AddButton("Add", func() {
		t.saveAddFormState(form, state)

		if state.name == "" || state.address == "" {
			t.app.showError("Error", "Name and address are required")
			return
		}

		rack, _ := strconv.Atoi(state.rack)
		slot, _ := strconv.Atoi(state.slot)

		var pollRate time.Duration
		if state.pollRateMs != "" {
			pollMs, _ := strconv.Atoi(state.pollRateMs)
			if pollMs > 0 {
				if pollMs < 250 {
					pollMs = 250
				} else if pollMs > 10000 {
					pollMs = 10000
				}
				pollRate = time.Duration(pollMs) * time.Millisecond
			}
		}

		var timeout time.Duration
		if state.timeoutMs != "" {
			timeoutMs, _ := strconv.Atoi(state.timeoutMs)
			if timeoutMs > 0 {
				timeout = time.Duration(timeoutMs) * time.Millisecond
			}
		}

		healthCheck := state.healthCheck

		cfg := config.PLCConfig{
			Name:               state.name,
			Address:            state.address,
			Rack:               byte(rack),
			Slot:               byte(slot),
			Family:             config.FamilyS7,
			Enabled:            state.autoConnect,
			HealthCheckEnabled: &healthCheck,
			PollRate:           pollRate,
			Timeout:            timeout,
		}

		t.app.config.AddPLC(cfg)
		t.app.SaveConfig()
		if addedCfg := t.app.config.FindPLC(state.name); addedCfg != nil {
			t.app.manager.AddPLC(addedCfg)
		}
		t.app.UpdateMQTTPLCNames()

		t.app.closeModal(pageName)
		t.Refresh()
		t.app.setStatus(fmt.Sprintf("Added PLC: %s", state.name))
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 55, 19, func() {
		t.app.closeModal(pageName)
	})
}

func (t *PLCsTab) saveAddFormState(form *tview.Form, state *plcFormState) {
	if item := form.GetFormItemByLabel("Name:"); item != nil {
		state.name = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Address:"); item != nil {
		state.address = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Rack:"); item != nil {
		state.rack = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Slot:"); item != nil {
		state.slot = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Poll Rate (ms):"); item != nil {
		state.pollRateMs = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Timeout (ms):"); item != nil {
		state.timeoutMs = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Auto-connect:"); item != nil {
		state.autoConnect = item.(*tview.Checkbox).IsChecked()
	}
	if item := form.GetFormItemByLabel("Health check:"); item != nil {
		state.healthCheck = item.(*tview.Checkbox).IsChecked()
	}
}

// editFormState extends plcFormState with edit-specific fields
type editFormState struct {
	plcFormState
	originalName string
	tags         []config.TagSelection
}

func (t *PLCsTab) showEditDialog() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}

	plc := t.app.manager.GetPLC(name)
	if plc == nil {
		return
	}
	cfg := plc.Config

	pollRateMs := "1000"
	if cfg.PollRate > 0 {
		pollRateMs = strconv.Itoa(int(cfg.PollRate.Milliseconds()))
	}

	timeoutMs := "5000"
	if cfg.Timeout > 0 {
		timeoutMs = strconv.Itoa(int(cfg.Timeout.Milliseconds()))
	}

	state := &editFormState{
		plcFormState: plcFormState{
			name:        cfg.Name,
			address:     cfg.Address,
			rack:        strconv.Itoa(int(cfg.Rack)),
			slot:        strconv.Itoa(int(cfg.Slot)),
			pollRateMs:  pollRateMs,
			timeoutMs:   timeoutMs,
			autoConnect: cfg.Enabled,
			healthCheck: cfg.IsHealthCheckEnabled(),
		},
		originalName: cfg.Name,
		tags:         cfg.Tags,
	}

	t.buildEditForm(state)
}

func (t *PLCsTab) buildEditForm(state *editFormState) {
	const pageName = "edit"

	t.app.pages.RemovePage(pageName)

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(" Edit PLC ")

	form.AddInputField("Name:", state.name, 30, nil, nil)
	form.AddInputField("Address:", state.address, 30, nil, nil)
	form.AddInputField("Rack:", state.rack, 5, acceptDigits, nil)
	form.AddInputField("Slot:", state.slot, 5, acceptDigits, nil)

	form.AddInputField("Poll Rate (ms):", state.pollRateMs, 10, func(text string, lastChar rune) bool {
		if text == "" {
			return true
		}
		_, err := strconv.Atoi(text)
		return err == nil
	}, nil)

	form.AddInputField("Timeout (ms):", state.timeoutMs, 10, func(text string, lastChar rune) bool {
		if text == "" {
			return true
		}
		_, err := strconv.Atoi(text)
		return err == nil
	}, nil)

	form.AddCheckbox("Auto-connect:", state.autoConnect, nil)
	form.AddCheckbox("Health check:", state.healthCheck, nil)

	form.AddButton("Save", func() {
		t.saveEditFormState(form, state)

		if state.name == "" || state.address == "" {
			t.app.showError("Error", "Name and address are required")
			return
		}

		rack, _ := strconv.Atoi(state.rack)
		slot, _ := strconv.Atoi(state.slot)

		var pollRate time.Duration
		if state.pollRateMs != "" {
			pollMs, _ := strconv.Atoi(state.pollRateMs)
			if pollMs > 0 {
				if pollMs < 250 {
					pollMs = 250
				} else if pollMs > 10000 {
					pollMs = 10000
				}
				pollRate = time.Duration(pollMs) * time.Millisecond
			}
		}

		var timeout time.Duration
		if state.timeoutMs != "" {
			timeoutMs, _ := strconv.Atoi(state.timeoutMs)
			if timeoutMs > 0 {
				timeout = time.Duration(timeoutMs) * time.Millisecond
			}
		}

		healthCheck := state.healthCheck

		updated := config.PLCConfig{
			Name:               state.name,
			Address:            state.address,
			Rack:               byte(rack),
			Slot:               byte(slot),
			Family:             config.FamilyS7,
			Enabled:            state.autoConnect,
			HealthCheckEnabled: &healthCheck,
			PollRate:           pollRate,
			Timeout:            timeout,
			Tags:               state.tags,
		}

		t.app.config.UpdatePLC(state.originalName, updated)
		t.app.SaveConfig()

		t.app.closeModal(pageName)
		t.app.setStatus(fmt.Sprintf("Updating PLC: %s...", state.name))

		originalName := state.originalName
		newName := state.name
		go func() {
			t.app.manager.Disconnect(originalName)
			t.app.manager.RemovePLC(originalName)
			if updatedCfg := t.app.config.FindPLC(newName); updatedCfg != nil {
				t.app.manager.AddPLC(updatedCfg)
				if originalName != newName {
					t.app.UpdateMQTTPLCNames()
				}
				if updatedCfg.Enabled {
					t.app.manager.Connect(newName)
				}
			}
			t.app.QueueUpdateDraw(func() {
				t.Refresh()
				t.app.setStatus(fmt.Sprintf("Updated PLC: %s", newName))
			})
		}()
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 55, 19, func() {
		t.app.closeModal(pageName)
	})
}

func (t *PLCsTab) saveEditFormState(form *tview.Form, state *editFormState) {
	if item := form.GetFormItemByLabel("Name:"); item != nil {
		state.name = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Address:"); item != nil {
		state.address = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Rack:"); item != nil {
		state.rack = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Slot:"); item != nil {
		state.slot = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Poll Rate (ms):"); item != nil {
		state.pollRateMs = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Timeout (ms):"); item != nil {
		state.timeoutMs = item.(*tview.InputField).GetText()
	}
	if item := form.GetFormItemByLabel("Auto-connect:"); item != nil {
		state.autoConnect = item.(*tview.Checkbox).IsChecked()
	}
	if item := form.GetFormItemByLabel("Health check:"); item != nil {
		state.healthCheck = item.(*tview.Checkbox).IsChecked()
	}
}

func (t *PLCsTab) removeSelected() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}

	t.app.showConfirm("Remove PLC", fmt.Sprintf("Remove %s?", name), func() {
		t.app.config.RemovePLC(name)
		t.app.SaveConfig()
		t.app.UpdateMQTTPLCNames()
		t.app.setStatus(fmt.Sprintf("Removing PLC: %s...", name))

		go func() {
			t.app.manager.Disconnect(name)
			t.app.manager.RemovePLC(name)
			t.app.QueueUpdateDraw(func() {
				t.Refresh()
				t.app.setStatus(fmt.Sprintf("Removed PLC: %s", name))
			})
		}()
	})
}

func (t *PLCsTab) connectSelected() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}

	plc := t.app.manager.GetPLC(name)
	if plc == nil {
		return
	}
	t.app.setStatus(fmt.Sprintf("Connecting to %s...", name))

	if cfg := t.app.config.FindPLC(name); cfg != nil {
		cfg.Enabled = true
		t.app.SaveConfig()
	}

	t.app.manager.Connect(name)
}

func (t *PLCsTab) disconnectSelected() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}
	t.app.setStatus(fmt.Sprintf("Disconnecting from %s...", name))

	if cfg := t.app.config.FindPLC(name); cfg != nil {
		cfg.Enabled = false
		t.app.SaveConfig()
	}

	go func() {
		t.app.manager.Disconnect(name)
		t.app.QueueUpdateDraw(func() {
			t.Refresh()
			t.app.setStatus(fmt.Sprintf("Disconnected from %s", name))
		})
	}()
}

func (t *PLCsTab) showInfoDialog() {
	const pageName = "info"

	name := t.getSelectedPLCName()
	if name == "" {
		return
	}

	plc := t.app.manager.GetPLC(name)
	if plc == nil {
		return
	}
	deviceInfo := plc.GetDeviceInfo()

	th := CurrentTheme
	info := th.Label("Name", plc.Config.Name) + "\n"
	info += th.Label("Address", plc.Config.Address) + "\n"
	info += fmt.Sprintf("%sRack:%s %d\n", th.TagAccent, th.TagReset, plc.Config.Rack)
	info += fmt.Sprintf("%sSlot:%s %d\n", th.TagAccent, th.TagReset, plc.Config.Slot)

	info += th.Label("Status", plc.GetStatus().String()) + "\n"
	info += th.Label("Mode", plc.GetConnectionMode()) + "\n"

	if err := plc.GetError(); err != nil {
		info += fmt.Sprintf("%sError:%s %s\n", th.TagAccent, th.TagError, err.Error())
	}

	if deviceInfo != nil {
		info += fmt.Sprintf("\n%s── Device Info ──%s\n", th.TagPrimary, th.TagReset)
		info += th.Label("Model", deviceInfo.Model) + "\n"
		info += th.Label("Vendor", deviceInfo.Vendor) + "\n"
		info += th.Label("Version", deviceInfo.Version) + "\n"
		if deviceInfo.SerialNumber != "" {
			info += th.Label("Serial", deviceInfo.SerialNumber) + "\n"
		}
		if deviceInfo.Description != "" {
			info += th.Label("Type", deviceInfo.Description) + "\n"
		}
	} else {
		info += "\n" + th.Dim("Connect to view device info")
	}

	tags := plc.GetTags()
	if len(tags) > 0 {
		info += fmt.Sprintf("\n%sTags:%s %d\n", th.TagAccent, th.TagReset, len(tags))
	} else {
		info += "\n" + th.Dim("No tags -- press 'a' in tag browser to add tags manually")
	}

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetText(info)
	textView.SetBorder(true).SetTitle(" PLC Info ")

	textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter || event.Rune() == 'i' {
			t.app.closeModal(pageName)
			return nil
		}
		return event
	})

	t.app.showCenteredModal(pageName, textView, 55, 20)
}
