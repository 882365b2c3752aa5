package tui

import "s7link/config"

// TagDisplayInfo describes how a tag should be rendered in a list: whether
// it's enabled for polling and what alias (if any) it carries.
type TagDisplayInfo struct {
	IsEnabled bool
	Alias     string
}

// FormatTagDisplay looks up tagName among plcTags and reports its enabled
// state and alias, for use by any tab that lists tag references.
func FormatTagDisplay(tagName string, plcTags []config.TagSelection) TagDisplayInfo {
	for _, sel := range plcTags {
		if sel.Name == tagName {
			return TagDisplayInfo{IsEnabled: sel.Enabled, Alias: sel.Alias}
		}
	}
	return TagDisplayInfo{}
}

// GetEnabledTags returns the names of tags enabled for polling on the given
// PLC, for populating tag-selection dropdowns.
func (a *App) GetEnabledTags(plcName string) []string {
	plcCfg := a.config.FindPLC(plcName)
	if plcCfg == nil {
		return nil
	}
	var tags []string
	for _, sel := range plcCfg.Tags {
		if sel.Enabled {
			tags = append(tags, sel.Name)
		}
	}
	return tags
}
