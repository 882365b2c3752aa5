package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"s7link/config"
	"s7link/plcman"
	"s7link/s7"
)

// BrowserTab handles the tag browser tab. S7 has no online tag discovery, so
// every tag shown here comes from the PLC's manual tag list in config.
type BrowserTab struct {
	app       *App
	flex      *tview.Flex
	plcSelect *tview.DropDown
	filter    *tview.InputField
	tree      *tview.TreeView
	treeFrame *tview.Frame
	details   *tview.TextView
	statusBar *tview.TextView
	buttonBar *tview.TextView

	selectedPLC          string
	lastPLCOptions       []string                // Track dropdown options to avoid unnecessary updates
	lastConnectionStatus plcman.ConnectionStatus // Track connection status to reload tags on connect
	updatingDropdown     bool                    // True when programmatically updating dropdown
	treeRoot             *tview.TreeNode
	tagNodes             map[string]*tview.TreeNode // Tag name -> tree node for quick lookup
	enabledTags          map[string]bool            // Tag name -> enabled for current PLC
	writableTags         map[string]bool            // Tag name -> writable for current PLC
	filterText           string                     // Current filter text (lowercase)
}

// NewBrowserTab creates a new browser tab.
func NewBrowserTab(app *App) *BrowserTab {
	t := &BrowserTab{
		app:          app,
		tagNodes:     make(map[string]*tview.TreeNode),
		enabledTags:  make(map[string]bool),
		writableTags: make(map[string]bool),
	}
	t.setupUI()
	return t
}

func (t *BrowserTab) setupUI() {
	// Button bar
	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	// PLC dropdown
	t.plcSelect = tview.NewDropDown().
		SetLabel("PLC: ").
		SetFieldWidth(20)
	ApplyDropDownTheme(t.plcSelect)
	t.plcSelect.SetSelectedFunc(func(text string, index int) {
		t.selectedPLC = text
		t.loadTags()
		if !t.updatingDropdown {
			t.app.app.SetFocus(t.tree)
		}
	})
	t.plcSelect.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			t.app.app.SetFocus(t.tree)
			return nil
		}
		return event
	})

	// Filter input
	t.filter = tview.NewInputField().
		SetLabel("Filter: ").
		SetFieldWidth(30)
	t.filter.SetChangedFunc(func(text string) {
		t.applyFilter(text)
	})
	t.filter.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter {
			t.app.app.SetFocus(t.tree)
			return nil
		}
		return event
	})
	ApplyInputFieldTheme(t.filter)

	// Header row
	header := tview.NewFlex().
		AddItem(t.plcSelect, 30, 0, false).
		AddItem(nil, 2, 0, false).
		AddItem(t.filter, 40, 0, false).
		AddItem(nil, 0, 1, false)

	// Tree view for tags
	t.treeRoot = tview.NewTreeNode("Tags").SetColor(CurrentTheme.Accent).
		SetSelectedTextStyle(tcell.StyleDefault.Foreground(CurrentTheme.SelectedText).Background(CurrentTheme.Accent))
	t.tree = tview.NewTreeView().
		SetRoot(t.treeRoot).
		SetCurrentNode(t.treeRoot)

	t.tree.SetSelectedFunc(t.onNodeSelected)
	t.tree.SetInputCapture(t.handleTreeKeys)

	t.treeFrame = tview.NewFrame(t.tree).SetBorders(0, 0, 0, 0, 0, 0)
	t.treeFrame.SetBorder(true).SetTitle(" Tags ").SetBorderColor(CurrentTheme.Border).SetTitleColor(CurrentTheme.Accent)

	// Details panel
	t.details = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetTextColor(CurrentTheme.Text)
	t.details.SetBorder(true).SetTitle(" Tag Details ").SetBorderColor(CurrentTheme.Border).SetTitleColor(CurrentTheme.Accent)
	t.details.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTab {
			t.app.app.SetFocus(t.tree)
			return nil
		}
		return event
	})

	// Content area
	content := tview.NewFlex().
		AddItem(t.treeFrame, 0, 1, true).
		AddItem(t.details, 40, 0, false)

	// Status bar
	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(CurrentTheme.Text)

	// Main layout - buttonBar at top, outside frames
	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(header, 1, 0, false).
		AddItem(content, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

func (t *BrowserTab) handleTreeKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEnter:
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.onNodeSelected(node)
		}
		return nil
	case tcell.KeyTab:
		t.app.app.SetFocus(t.details)
		return nil
	case tcell.KeyEscape:
		t.app.app.SetFocus(t.tree)
		return nil
	}

	switch event.Rune() {
	case ' ':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.toggleNodeSelection(node)
		}
		return nil
	case '/':
		t.app.app.SetFocus(t.filter)
		return nil
	case 'p':
		t.app.app.SetFocus(t.plcSelect)
		t.plcSelect.InputHandler()(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), func(p tview.Primitive) {
			t.app.app.SetFocus(p)
		})
		return nil
	case 'c':
		t.filter.SetText("")
		t.applyFilter("")
		return nil
	case 'd':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.showDetailedTagInfo(node)
		}
		return nil
	case 'w':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.toggleNodeWritable(node)
		}
		return nil
	case 'W':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.showWriteDialog(node)
		}
		return nil
	case 'a':
		t.showAddTagDialog()
		return nil
	case 'e':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.showEditTagDialog(node)
		}
		return nil
	case 'x':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.deleteManualTag(node)
		}
		return nil
	case 's':
		node := t.tree.GetCurrentNode()
		if node != nil {
			t.showServicesDialog(node)
		}
		return nil
	}

	return event
}

func (t *BrowserTab) getTypeName(typeCode uint16) string {
	return s7.TypeName(s7.BaseType(typeCode))
}

func (t *BrowserTab) onNodeSelected(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		if node != t.treeRoot {
			node.SetExpanded(!node.IsExpanded())
		}
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	t.showTagDetails(tagInfo)
}

func (t *BrowserTab) toggleNodeSelection(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	tagName := tagInfo.Name
	wasEnabled := t.enabledTags[tagName]

	t.enabledTags[tagName] = !t.enabledTags[tagName]
	enabled := t.enabledTags[tagName]
	writable := t.writableTags[tagName]

	t.updateNodeText(node, tagInfo, enabled, writable)
	t.updateConfigTag(tagName, enabled, writable)

	if enabled && !wasEnabled && t.selectedPLC != "" {
		go t.app.ForcePublishTag(t.selectedPLC, tagName)
	}

	t.updateStatus()
}

func (t *BrowserTab) toggleNodeWritable(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	tagName := tagInfo.Name
	t.writableTags[tagName] = !t.writableTags[tagName]
	enabled := t.enabledTags[tagName]
	writable := t.writableTags[tagName]

	t.updateNodeText(node, tagInfo, enabled, writable)
	t.updateConfigTag(tagName, enabled, writable)
	t.updateStatus()
}

func (t *BrowserTab) updateNodeText(node *tview.TreeNode, tag *plcman.TagInfo, enabled, writable bool) {
	checkbox := GetCheckboxUnchecked()
	if enabled {
		checkbox = GetCheckboxChecked()
	}

	th := CurrentTheme

	writeIndicator := ""
	if writable {
		writeIndicator = th.TagWritable + "W" + th.TagReset + " "
	}

	typeName := t.getTypeName(tag.TypeCode)
	shortName := tag.Name

	// Show the alias as the primary name if one is set, with the address in gray.
	cfg := t.app.config.FindPLC(t.selectedPLC)
	if cfg != nil {
		for _, sel := range cfg.Tags {
			if sel.Name == tag.Name && sel.Alias != "" {
				shortName = sel.Alias
				typeName = fmt.Sprintf("(%s) %s", tag.Name, typeName)
				break
			}
		}
	}

	var text string
	if enabled {
		text = fmt.Sprintf("[::b]%s %s%s[::-]  %s%s%s", checkbox, writeIndicator, shortName, th.TagTextDim, typeName, th.TagReset)
		node.SetColor(th.Secondary)
		node.SetSelectedTextStyle(tcell.StyleDefault.Foreground(th.SelectedText).Background(th.Success).Bold(true))
	} else {
		text = fmt.Sprintf("%s %s%s  %s", checkbox, writeIndicator, shortName, typeName)
		node.SetColor(th.Text)
		node.SetSelectedTextStyle(tcell.StyleDefault.Foreground(th.SelectedText).Background(th.TextDim))
	}
	node.SetText(text)
}

func (t *BrowserTab) updateConfigTag(tagName string, enabled, writable bool) {
	plc := t.app.config.FindPLC(t.selectedPLC)
	if plc == nil {
		return
	}

	found := false
	for i := range plc.Tags {
		if plc.Tags[i].Name == tagName {
			plc.Tags[i].Enabled = enabled
			plc.Tags[i].Writable = writable
			found = true
			break
		}
	}

	if !found && (enabled || writable) {
		plc.Tags = append(plc.Tags, config.TagSelection{
			Name:     tagName,
			Enabled:  enabled,
			Writable: writable,
		})
	}

	t.app.SaveConfig()
}

func (t *BrowserTab) showWriteDialog(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	tagName := tagInfo.Name

	if !t.writableTags[tagName] {
		t.app.showError("Not Writable", "Tag must be marked writable first.\nPress 'w' to toggle writable flag.")
		return
	}

	var currentValue string
	plc := t.app.manager.GetPLC(t.selectedPLC)
	if plc != nil {
		values := plc.GetValues()
		if val, ok := values[tagName]; ok && val != nil && val.Error == nil {
			currentValue = formatValue(val.GoValue())
		}
	}

	th := CurrentTheme
	pageName := "write-dialog"

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true)
	form.SetTitle(fmt.Sprintf(" Write: %s ", tagName))
	form.SetTitleColor(th.Accent)
	form.SetBorderColor(th.Border)

	form.AddInputField("Current:", currentValue, 30, nil, nil)
	form.GetFormItemByLabel("Current:").(*tview.InputField).SetDisabled(true)
	form.AddInputField("New Value:", "", 30, nil, nil)

	closeDialog := func() {
		t.app.pages.RemovePage(pageName)
		t.app.pages.SwitchToPage("main")
		t.app.app.SetFocus(t.tree)
	}

	form.AddButton("Write", func() {
		newValue := form.GetFormItemByLabel("New Value:").(*tview.InputField).GetText()
		if newValue == "" {
			return
		}

		var writeValue interface{}
		var parseErr error

		var v int64
		v, parseErr = strconv.ParseInt(newValue, 0, 64)
		if parseErr != nil {
			var f float64
			f, parseErr = strconv.ParseFloat(newValue, 64)
			if parseErr != nil {
				t.app.setStatus(fmt.Sprintf("Invalid value: %s", newValue))
				return
			}
			writeValue = f
		} else {
			writeValue = v
		}

		plcName := t.selectedPLC
		writeVal := writeValue
		tagN := tagName
		app := t.app.app

		t.app.pages.RemovePage(pageName)
		t.app.pages.SwitchToPage("main")
		t.app.app.SetFocus(t.tree)
		t.app.setStatus(fmt.Sprintf("Writing %v to %s...", writeVal, tagN))

		app.Draw()

		go func() {
			err := t.app.manager.WriteTag(plcName, tagN, writeVal)
			if err != nil {
				t.app.setStatus(fmt.Sprintf("Write failed: %v", err))
			} else {
				t.app.setStatus(fmt.Sprintf("Wrote %v to %s", writeVal, tagN))
			}
			app.Draw()
		}()
	})

	form.AddButton("Cancel", closeDialog)
	form.SetCancelFunc(closeDialog)

	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(form, 9, 1, true).
			AddItem(nil, 0, 1, false), 45, 1, true).
		AddItem(nil, 0, 1, false)

	t.app.pages.AddPage(pageName, modal, true, true)
	t.app.app.SetFocus(form)
}

func (t *BrowserTab) showTagDetails(tag *plcman.TagInfo) {
	th := CurrentTheme
	var sb strings.Builder

	sb.WriteString(th.Label("Name", tag.Name) + "\n")
	sb.WriteString(th.Label("Type", t.getTypeName(tag.TypeCode)) + "\n")

	plc := t.app.manager.GetPLC(t.selectedPLC)
	if plc != nil {
		values := plc.GetValues()
		if val, ok := values[tag.Name]; ok {
			if val.Error != nil {
				sb.WriteString(th.TagAccent + "Value:" + th.TagError + " " + val.Error.Error() + th.TagReset + "\n")
			} else {
				sb.WriteString(th.Label("Value", formatValue(val.GoValue())) + "\n")
			}
		}
	}

	cfg := t.app.config.FindPLC(t.selectedPLC)
	if cfg != nil {
		for _, sel := range cfg.Tags {
			if sel.Name == tag.Name && sel.Alias != "" {
				sb.WriteString(th.Label("Alias", sel.Alias) + "\n")
				break
			}
		}
	}

	if len(tag.Dimensions) > 0 {
		dims := make([]string, len(tag.Dimensions))
		for i, d := range tag.Dimensions {
			dims[i] = fmt.Sprintf("%d", d)
		}
		sb.WriteString(th.Label("Dimensions", "["+strings.Join(dims, ",")+"]") + "\n")
	}

	enabled := t.enabledTags[tag.Name]
	writable := t.writableTags[tag.Name]
	if enabled {
		services := []string{"REST", "MQTT", "Kafka", "Valkey"}
		if cfg != nil {
			for _, sel := range cfg.Tags {
				if sel.Name == tag.Name {
					services = sel.GetEnabledServices()
					break
				}
			}
		}
		if len(services) == 0 {
			sb.WriteString("\n" + th.Dim(GetCheckboxChecked()+" Publishing disabled (no services)"))
		} else if len(services) == 4 {
			sb.WriteString("\n" + th.SuccessText(GetCheckboxChecked()+" Publishing to all services"))
		} else {
			sb.WriteString("\n" + th.SuccessText(GetCheckboxChecked()+" Publishing to "+strings.Join(services, ", ")))
		}
	} else {
		sb.WriteString("\n" + th.Dim(GetCheckboxUnchecked()+" Not publishing"))
	}

	if writable {
		sb.WriteString("\n" + th.ErrorText("W Writable"))
	} else {
		sb.WriteString("\n" + th.Dim("  Read-only"))
	}

	sb.WriteString("\n\n" + th.TagPrimary + "Space" + th.TagText + " toggle  " +
		th.TagPrimary + "w" + th.TagText + " writable  " +
		th.TagPrimary + "d" + th.TagText + " details" + th.TagReset)

	t.details.SetText(sb.String())
}

func (t *BrowserTab) showDetailedTagInfo(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	th := CurrentTheme
	boldAccent := th.TagAccent[:len(th.TagAccent)-1] + "::b]"

	var sb strings.Builder
	sb.WriteString(boldAccent + "Tag Information[-::-]\n")
	sb.WriteString("─────────────────────────────\n")
	sb.WriteString(th.Label("Name", tagInfo.Name) + "\n")
	sb.WriteString(fmt.Sprintf("%sType:%s %s (0x%04X)\n", th.TagAccent, th.TagReset, t.getTypeName(tagInfo.TypeCode), tagInfo.TypeCode))

	if len(tagInfo.Dimensions) > 0 {
		dims := make([]string, len(tagInfo.Dimensions))
		for i, d := range tagInfo.Dimensions {
			dims[i] = fmt.Sprintf("%d", d)
		}
		sb.WriteString(fmt.Sprintf("%sDimensions:%s [%s]\n", th.TagAccent, th.TagReset, strings.Join(dims, ", ")))
	} else {
		sb.WriteString(fmt.Sprintf("%sDimensions:%s scalar\n", th.TagAccent, th.TagReset))
	}

	sb.WriteString("\n" + boldAccent + "Live Value[-::-]\n")
	sb.WriteString("─────────────────────────────\n")
	sb.WriteString(th.Dim("Reading from PLC...") + "\n")
	t.details.SetText(sb.String())

	plcName := t.selectedPLC
	tagName := tagInfo.Name
	tagTypeCode := tagInfo.TypeCode
	tagDimensions := tagInfo.Dimensions

	go func() {
		th := CurrentTheme
		boldAccent := th.TagAccent[:len(th.TagAccent)-1] + "::b]"
		plc := t.app.manager.GetPLC(plcName)
		if plc == nil {
			t.app.QueueUpdateDraw(func() {
				t.details.SetText(sb.String() + "\n" + th.ErrorText("PLC not available") + "\n")
			})
			return
		}

		isArrayType := s7.IsArray(tagTypeCode)
		baseType := s7.BaseType(tagTypeCode)
		baseTypeName := s7.TypeName(baseType)
		elemSize := uint32(s7.TypeSize(baseType))

		var arrayDebugInfo string
		if isArrayType {
			var debugSb strings.Builder
			debugSb.WriteString("\n" + boldAccent + "Array Info[-::-]\n")
			debugSb.WriteString("─────────────────────────────\n")
			debugSb.WriteString(fmt.Sprintf("%sBase Type:%s %s\n", th.TagAccent, th.TagReset, baseTypeName))
			debugSb.WriteString(fmt.Sprintf("%sElement Size:%s %d bytes\n", th.TagAccent, th.TagReset, elemSize))
			arrayDebugInfo = debugSb.String()
		}

		val, err := t.app.manager.ReadTag(plcName, tagName)

		t.app.QueueUpdateDraw(func() {
			var result strings.Builder

			result.WriteString(boldAccent + "Tag Information[-::-]\n")
			result.WriteString("─────────────────────────────\n")
			result.WriteString(th.Label("Name", tagName) + "\n")
			result.WriteString(fmt.Sprintf("%sType:%s %s (0x%04X)\n", th.TagAccent, th.TagReset, t.getTypeName(tagTypeCode), tagTypeCode))

			if len(tagDimensions) > 0 {
				dims := make([]string, len(tagDimensions))
				for i, d := range tagDimensions {
					dims[i] = fmt.Sprintf("%d", d)
				}
				result.WriteString(fmt.Sprintf("%sDimensions:%s [%s]\n", th.TagAccent, th.TagReset, strings.Join(dims, ", ")))
			} else {
				result.WriteString(fmt.Sprintf("%sDimensions:%s scalar\n", th.TagAccent, th.TagReset))
			}

			if arrayDebugInfo != "" {
				result.WriteString(arrayDebugInfo)
			}

			result.WriteString("\n" + boldAccent + "Live Value[-::-]\n")
			result.WriteString("─────────────────────────────\n")

			if err != nil {
				result.WriteString(fmt.Sprintf("%sRead error:%s %v\n", th.TagError, th.TagReset, err))
				t.details.SetText(result.String())
				return
			}

			if val == nil {
				result.WriteString(th.Dim("No value returned") + "\n")
				t.details.SetText(result.String())
				return
			}

			if val.Error != nil {
				result.WriteString(fmt.Sprintf("%sTag error:%s %v\n", th.TagError, th.TagReset, val.Error))
				t.details.SetText(result.String())
				return
			}

			result.WriteString(th.Label("Value", formatValue(val.GoValue())) + "\n")
			result.WriteString(fmt.Sprintf("%sData Type:%s %s (0x%04X)\n", th.TagAccent, th.TagReset, t.getTypeName(val.DataType), val.DataType))
			result.WriteString(fmt.Sprintf("%sSize:%s %d bytes\n", th.TagAccent, th.TagReset, len(val.Bytes)))

			result.WriteString("\n" + boldAccent + "Raw Bytes[-::-]\n")
			result.WriteString("─────────────────────────────\n")

			if len(val.Bytes) > 0 {
				for i := 0; i < len(val.Bytes); i += 16 {
					result.WriteString(fmt.Sprintf("%s%04X:%s ", th.TagTextDim, i, th.TagReset))

					for j := 0; j < 16; j++ {
						if i+j < len(val.Bytes) {
							result.WriteString(fmt.Sprintf("%02X ", val.Bytes[i+j]))
						} else {
							result.WriteString("   ")
						}
						if j == 7 {
							result.WriteString(" ")
						}
					}

					result.WriteString(" " + th.TagTextDim + "|")
					for j := 0; j < 16 && i+j < len(val.Bytes); j++ {
						b := val.Bytes[i+j]
						if b >= 32 && b < 127 {
							result.WriteString(string(b))
						} else {
							result.WriteString(".")
						}
					}
					result.WriteString("|" + th.TagReset + "\n")

					if i >= 256 {
						result.WriteString(th.Dim(fmt.Sprintf("... (%d more bytes)", len(val.Bytes)-i-16)) + "\n")
						break
					}
				}
			} else {
				result.WriteString(th.Dim("No data") + "\n")
			}

			t.details.SetText(result.String())
		})
	}()
}

func (t *BrowserTab) updateStatus() {
	th := CurrentTheme
	count := 0
	for _, enabled := range t.enabledTags {
		if enabled {
			count++
		}
	}

	statusPrefix := ""
	if t.selectedPLC != "" {
		plc := t.app.manager.GetPLC(t.selectedPLC)
		if plc == nil || plc.GetStatus() != plcman.StatusConnected {
			statusPrefix = th.ErrorText("OFFLINE") + " | "
		}
	}

	t.statusBar.SetText(fmt.Sprintf(" %s%d tags selected for publishing", statusPrefix, count))
}

func (t *BrowserTab) updateButtonBar() {
	th := CurrentTheme
	buttonText := " " + th.TagHotkey + "/" + th.TagActionText + " filter  " +
		th.TagHotkey + "c" + th.TagActionText + "lear  " +
		th.TagHotkey + "p" + th.TagActionText + "lc  " +
		th.TagHotkey + "Space" + th.TagActionText + " toggle  " +
		th.TagHotkey + "s" + th.TagActionText + "ervices  " +
		th.TagHotkey + "w" + th.TagActionText + "ritable  " +
		th.TagHotkey + "d" + th.TagActionText + "etails  " +
		th.TagHotkey + "a" + th.TagActionText + "dd  " +
		th.TagHotkey + "e" + th.TagActionText + "dit  " +
		th.TagHotkey + "x" + th.TagActionText + " delete"

	buttonText += "  " + th.TagActionText + "│  " +
		th.TagHotkey + "?" + th.TagActionText + " help " + th.TagReset
	t.buttonBar.SetText(buttonText)
}

// GetPrimitive returns the main primitive for this tab.
func (t *BrowserTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *BrowserTab) GetFocusable() tview.Primitive {
	return t.tree
}

// RefreshTheme updates theme-dependent UI elements.
func (t *BrowserTab) RefreshTheme() {
	t.updateButtonBar()
	t.updateStatus()
	th := CurrentTheme
	t.treeFrame.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.details.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.details.SetTextColor(th.Text)
	t.statusBar.SetTextColor(th.Text)
	ApplyDropDownTheme(t.plcSelect)
	ApplyInputFieldTheme(t.filter)
	ApplyTreeViewTheme(t.tree)
	t.treeRoot.SetColor(th.Accent).SetSelectedTextStyle(tcell.StyleDefault.Foreground(th.SelectedText).Background(th.Accent))
	t.loadTags()
}

// Refresh updates the PLC dropdown and reloads tags.
func (t *BrowserTab) Refresh() {
	plcs := t.app.manager.ListPLCs()

	sort.Slice(plcs, func(i, j int) bool {
		return plcs[i].Config.Name < plcs[j].Config.Name
	})

	options := make([]string, 0)
	selectedIdx := -1
	var selectedPLCStatus plcman.ConnectionStatus

	for _, plc := range plcs {
		if plc.Config.Name == t.selectedPLC {
			selectedIdx = len(options)
			selectedPLCStatus = plc.Status
		}
		options = append(options, plc.Config.Name)
	}

	if t.selectedPLC != "" && selectedIdx >= 0 {
		if selectedPLCStatus == plcman.StatusConnected && t.lastConnectionStatus != plcman.StatusConnected {
			t.lastConnectionStatus = selectedPLCStatus
			t.loadTags()
			return
		}
		t.lastConnectionStatus = selectedPLCStatus
	}

	optionsChanged := !stringSlicesEqual(t.lastPLCOptions, options)

	if optionsChanged {
		t.lastPLCOptions = options
		t.updatingDropdown = true

		t.plcSelect.SetOptions(options, func(text string, index int) {
			t.selectedPLC = text
			t.lastConnectionStatus = 0
			t.loadTags()
			if !t.updatingDropdown {
				t.app.app.SetFocus(t.tree)
			}
		})

		if selectedIdx >= 0 {
			t.plcSelect.SetCurrentOption(selectedIdx)
		} else if len(options) > 0 && t.selectedPLC == "" {
			t.plcSelect.SetCurrentOption(0)
			t.selectedPLC = options[0]
			t.lastConnectionStatus = 0
			t.loadTags()
		} else if len(options) == 0 {
			t.selectedPLC = ""
			t.lastConnectionStatus = 0
			t.clearTree()
		}

		t.updatingDropdown = false
	}
}

// stringSlicesEqual compares two string slices for equality.
func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *BrowserTab) clearTree() {
	t.treeRoot.ClearChildren()
	t.tagNodes = make(map[string]*tview.TreeNode)
	t.enabledTags = make(map[string]bool)
	t.writableTags = make(map[string]bool)
	t.details.SetText("")
	t.statusBar.SetText(" No PLC selected")
}

func (t *BrowserTab) loadTags() {
	// Set current node to root before clearing to prevent tview from
	// having a dangling reference to a destroyed node (which causes cursor jump)
	t.tree.SetCurrentNode(t.treeRoot)
	t.treeRoot.ClearChildren()
	t.tagNodes = make(map[string]*tview.TreeNode)
	t.enabledTags = make(map[string]bool)
	t.writableTags = make(map[string]bool)

	if t.selectedPLC == "" {
		return
	}

	cfg := t.app.config.FindPLC(t.selectedPLC)
	if cfg == nil {
		return
	}

	plc := t.app.manager.GetPLC(t.selectedPLC)

	var tags []plcman.TagInfo
	var values map[string]*plcman.TagValue

	if plc != nil {
		tags = plc.GetTags()
		values = plc.GetValues()
	} else {
		values = make(map[string]*plcman.TagValue)
	}

	for _, sel := range cfg.Tags {
		t.enabledTags[sel.Name] = sel.Enabled
		t.writableTags[sel.Name] = sel.Writable
	}

	th := CurrentTheme

	isOffline := plc == nil || plc.GetStatus() != plcman.StatusConnected
	if isOffline {
		offlineNode := tview.NewTreeNode(th.ErrorText("PLC OFFLINE") + " - Tags can still be configured").
			SetColor(th.Error).
			SetSelectable(false)
		t.treeRoot.AddChild(offlineNode)
	}

	sectionNode := tview.NewTreeNode("Tags").
		SetColor(th.Accent).
		SetExpanded(true).
		SetSelectedTextStyle(tcell.StyleDefault.Foreground(th.SelectedText).Background(th.Accent))

	sort.Slice(tags, func(i, j int) bool {
		return tags[i].Name < tags[j].Name
	})

	for i := range tags {
		tag := &tags[i]
		if !t.matchesFilter(tag.Name) {
			continue
		}
		enabled := t.enabledTags[tag.Name]
		writable := t.writableTags[tag.Name]
		var hasError bool
		if val, ok := values[tag.Name]; ok && val != nil && val.Error != nil {
			hasError = true
		}
		node := t.createTagNodeWithError(tag, enabled, writable, hasError)
		sectionNode.AddChild(node)
		t.tagNodes[tag.Name] = node
	}

	if len(sectionNode.GetChildren()) > 0 {
		t.treeRoot.AddChild(sectionNode)
	}

	t.updateStatus()
}

func (t *BrowserTab) createTagNodeWithError(tag *plcman.TagInfo, enabled, writable, hasError bool) *tview.TreeNode {
	th := CurrentTheme
	checkbox := GetCheckboxUnchecked()
	if enabled {
		checkbox = GetCheckboxChecked()
	}

	writeIndicator := ""
	if writable {
		writeIndicator = th.TagWritable + "W" + th.TagReset + " "
	}

	errorIndicator := ""
	if hasError {
		errorIndicator = th.TagError + "!" + th.TagReset + " "
	}

	typeName := t.getTypeName(tag.TypeCode)
	shortName := tag.Name

	// The alias, when set, is shown as the primary name with the address in gray.
	cfg := t.app.config.FindPLC(t.selectedPLC)
	if cfg != nil {
		for _, sel := range cfg.Tags {
			if sel.Name == tag.Name && sel.Alias != "" {
				shortName = sel.Alias
				typeName = fmt.Sprintf("(%s) %s", tag.Name, typeName)
				break
			}
		}
	}

	var text string
	if enabled {
		text = fmt.Sprintf("[::b]%s %s%s%s[::-]  %s%s%s", checkbox, errorIndicator, writeIndicator, shortName, th.TagTextDim, typeName, th.TagReset)
	} else {
		text = fmt.Sprintf("%s %s%s%s  %s", checkbox, errorIndicator, writeIndicator, shortName, typeName)
	}

	node := tview.NewTreeNode(text).
		SetReference(tag).
		SetSelectable(true)

	if enabled {
		node.SetColor(th.Secondary)
		node.SetSelectedTextStyle(tcell.StyleDefault.Foreground(th.SelectedText).Background(th.Success).Bold(true))
	} else {
		node.SetColor(th.Text)
		node.SetSelectedTextStyle(tcell.StyleDefault.Foreground(th.SelectedText).Background(th.TextDim))
	}

	return node
}

func (t *BrowserTab) applyFilter(filterText string) {
	t.filterText = strings.ToLower(filterText)
	t.loadTags()
}

// matchesFilter returns true if the tag name matches the current filter.
func (t *BrowserTab) matchesFilter(tagName string) bool {
	if t.filterText == "" {
		return true
	}
	return strings.Contains(strings.ToLower(tagName), t.filterText)
}

// showServicesDialog shows a dialog to configure which services a tag publishes to.
func (t *BrowserTab) showServicesDialog(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	tagName := tagInfo.Name

	if !t.enabledTags[tagName] {
		t.app.setStatus("Enable tag for publishing first (Space)")
		return
	}

	const pageName = "services"

	cfg := t.app.config.FindPLC(t.selectedPLC)
	if cfg == nil {
		return
	}

	var sel *config.TagSelection
	for i := range cfg.Tags {
		if cfg.Tags[i].Name == tagName {
			sel = &cfg.Tags[i]
			break
		}
	}

	if sel == nil {
		t.app.setStatus("Tag configuration not found")
		return
	}

	restEnabled := !sel.NoREST
	mqttEnabled := !sel.NoMQTT
	kafkaEnabled := !sel.NoKafka
	valkeyEnabled := !sel.NoValkey

	form := tview.NewForm()
	ApplyFormTheme(form)

	displayName := tagName
	if len(displayName) > 25 {
		displayName = displayName[:22] + "..."
	}
	form.SetBorder(true).SetTitle(" Services: " + displayName + " ")

	form.AddCheckbox("REST API", restEnabled, func(checked bool) {
		restEnabled = checked
	})
	form.AddCheckbox("MQTT", mqttEnabled, func(checked bool) {
		mqttEnabled = checked
	})
	form.AddCheckbox("Kafka", kafkaEnabled, func(checked bool) {
		kafkaEnabled = checked
	})
	form.AddCheckbox("Valkey", valkeyEnabled, func(checked bool) {
		valkeyEnabled = checked
	})

	form.AddButton("Save", func() {
		sel.NoREST = !restEnabled
		sel.NoMQTT = !mqttEnabled
		sel.NoKafka = !kafkaEnabled
		sel.NoValkey = !valkeyEnabled

		t.app.SaveConfig()
		t.app.pages.RemovePage(pageName)
		t.app.app.SetFocus(t.tree)

		t.showTagDetails(tagInfo)

		services := sel.GetEnabledServices()
		if len(services) == 4 {
			t.app.setStatus(fmt.Sprintf("%s: publishing to all services", tagName))
		} else if len(services) == 0 {
			t.app.setStatus(fmt.Sprintf("%s: publishing disabled (no services)", tagName))
		} else {
			t.app.setStatus(fmt.Sprintf("%s: publishing to %s", tagName, strings.Join(services, ", ")))
		}
	})

	form.AddButton("Cancel", func() {
		t.app.pages.RemovePage(pageName)
		t.app.app.SetFocus(t.tree)
	})

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			t.app.pages.RemovePage(pageName)
			t.app.app.SetFocus(t.tree)
			return nil
		}
		return event
	})

	flex := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(form, 15, 0, true).
			AddItem(nil, 0, 1, false), 45, 0, true).
		AddItem(nil, 0, 1, false)

	t.app.pages.AddPage(pageName, flex, true, true)
	t.app.app.SetFocus(form)
}

// showAddTagDialog shows a dialog to add a manual tag.
func (t *BrowserTab) showAddTagDialog() {
	const pageName = "addtag"

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(" Add Tag ")

	typeOptions := s7.SupportedTypeNames()

	form.AddInputField("Alias:", "", 30, nil, nil)
	form.AddDropDown("Data Type:", typeOptions, 4, nil) // Default to DINT
	form.AddInputField("DB.Offset:", "", 30, nil, nil)
	form.AddCheckbox("Writable:", false, nil)

	form.AddButton("Add", func() {
		alias := form.GetFormItemByLabel("Alias:").(*tview.InputField).GetText()
		tagName := form.GetFormItemByLabel("DB.Offset:").(*tview.InputField).GetText()
		typeIdx, _ := form.GetFormItemByLabel("Data Type:").(*tview.DropDown).GetCurrentOption()
		writable := form.GetFormItemByLabel("Writable:").(*tview.Checkbox).IsChecked()

		if tagName == "" {
			t.app.showErrorWithFocus("Error", "Address is required", form)
			return
		}

		if err := s7.ValidateAddress(tagName); err != nil {
			t.app.showErrorWithFocus("Invalid Address", err.Error(), form)
			return
		}

		cfg := t.app.config.FindPLC(t.selectedPLC)
		if cfg != nil {
			for _, tag := range cfg.Tags {
				if tag.Name == tagName {
					t.app.showErrorWithFocus("Error", "Tag already exists: "+tagName, form)
					return
				}
			}

			cfg.Tags = append(cfg.Tags, config.TagSelection{
				Name:     tagName,
				DataType: typeOptions[typeIdx],
				Alias:    alias,
				Enabled:  true,
				Writable: writable,
			})

			t.app.SaveConfig()
			t.app.manager.RefreshManualTags(t.selectedPLC)
		}

		t.app.closeModal(pageName)
		t.loadTags()
		t.app.setStatus(fmt.Sprintf("Added tag: %s", tagName))
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 50, 14, func() {
		t.app.closeModal(pageName)
	})
}

// showEditTagDialog shows a dialog to edit a manual tag.
func (t *BrowserTab) showEditTagDialog(node *tview.TreeNode) {
	const pageName = "edittag"

	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	cfg := t.app.config.FindPLC(t.selectedPLC)
	if cfg == nil {
		return
	}

	var tagSel *config.TagSelection
	var tagIdx int
	for i := range cfg.Tags {
		if cfg.Tags[i].Name == tagInfo.Name {
			tagSel = &cfg.Tags[i]
			tagIdx = i
			break
		}
	}

	if tagSel == nil {
		return
	}

	form := tview.NewForm()
	ApplyFormTheme(form)
	form.SetBorder(true).SetTitle(" Edit Tag ")

	typeOptions := s7.SupportedTypeNames()
	selectedType := 3
	for i, opt := range typeOptions {
		if opt == tagSel.DataType {
			selectedType = i
			break
		}
	}

	form.AddInputField("Alias:", tagSel.Alias, 30, nil, nil)
	form.AddDropDown("Data Type:", typeOptions, selectedType, nil)
	form.AddInputField("DB.Offset:", tagSel.Name, 30, nil, nil)
	form.AddCheckbox("Writable:", tagSel.Writable, nil)

	originalName := tagSel.Name

	form.AddButton("Save", func() {
		alias := form.GetFormItemByLabel("Alias:").(*tview.InputField).GetText()
		tagName := form.GetFormItemByLabel("DB.Offset:").(*tview.InputField).GetText()
		typeIdx, _ := form.GetFormItemByLabel("Data Type:").(*tview.DropDown).GetCurrentOption()
		writable := form.GetFormItemByLabel("Writable:").(*tview.Checkbox).IsChecked()

		if tagName == "" {
			t.app.showErrorWithFocus("Error", "Address is required", form)
			return
		}

		if err := s7.ValidateAddress(tagName); err != nil {
			t.app.showErrorWithFocus("Invalid Address", err.Error(), form)
			return
		}

		if tagName != originalName {
			for _, tag := range cfg.Tags {
				if tag.Name == tagName {
					t.app.showErrorWithFocus("Error", "Tag already exists: "+tagName, form)
					return
				}
			}
		}

		cfg.Tags[tagIdx].Name = tagName
		cfg.Tags[tagIdx].DataType = typeOptions[typeIdx]
		cfg.Tags[tagIdx].Alias = alias
		cfg.Tags[tagIdx].Writable = writable

		t.app.SaveConfig()
		t.app.manager.RefreshManualTags(t.selectedPLC)

		t.app.closeModal(pageName)
		t.loadTags()
		t.app.setStatus(fmt.Sprintf("Updated tag: %s", tagName))
	})

	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})

	t.app.showFormModal(pageName, form, 50, 14, func() {
		t.app.closeModal(pageName)
	})
}

// deleteManualTag deletes a manual tag after confirmation.
func (t *BrowserTab) deleteManualTag(node *tview.TreeNode) {
	ref := node.GetReference()
	if ref == nil {
		return
	}

	tagInfo, ok := ref.(*plcman.TagInfo)
	if !ok {
		return
	}

	tagName := tagInfo.Name

	t.app.showConfirm("Delete Tag", fmt.Sprintf("Delete tag %s?", tagName), func() {
		cfg := t.app.config.FindPLC(t.selectedPLC)
		if cfg != nil {
			for i, tag := range cfg.Tags {
				if tag.Name == tagName {
					cfg.Tags = append(cfg.Tags[:i], cfg.Tags[i+1:]...)
					break
				}
			}
			t.app.SaveConfig()
			t.app.manager.RefreshManualTags(t.selectedPLC)
		}

		t.loadTags()
		t.app.setStatus(fmt.Sprintf("Deleted tag: %s", tagName))
	})
}

// formatValue formats a value for display, handling maps (structured tags) specially.
func formatValue(v interface{}) string {
	if v == nil {
		return "<nil>"
	}

	switch val := v.(type) {
	case map[string]interface{}:
		return formatMapValue(val, 0)
	case []interface{}:
		if len(val) == 0 {
			return "[]"
		}
		var sb strings.Builder
		sb.WriteString("[")
		for i, elem := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			if i >= 5 {
				sb.WriteString(fmt.Sprintf("... (%d more)", len(val)-5))
				break
			}
			sb.WriteString(formatValue(elem))
		}
		sb.WriteString("]")
		return sb.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatMapValue formats a map value with optional indentation for nested display.
func formatMapValue(m map[string]interface{}, indent int) string {
	if len(m) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString("{\n")
	for i, k := range keys {
		v := m[k]
		sb.WriteString(prefix)
		sb.WriteString("  ")
		sb.WriteString(k)
		sb.WriteString(": ")

		if nested, ok := v.(map[string]interface{}); ok {
			sb.WriteString(formatMapValue(nested, indent+1))
		} else {
			sb.WriteString(formatValue(v))
		}

		if i < len(keys)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(prefix)
	sb.WriteString("}")

	return sb.String()
}
