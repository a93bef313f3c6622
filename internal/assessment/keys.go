package assessment

import (
	"sort"
	"strings"
)

// deniedCombos is the keyboard deny-list in canonical form
// (modifiers in Ctrl, Alt, Shift, Meta order, key upper-cased).
var deniedCombos = map[string]struct{}{}

func init() {
	combos := []string{
		// developer tools
		"F12", "Ctrl+Shift+I", "Ctrl+Shift+J", "Ctrl+Shift+C", "Ctrl+U",
		"Alt+Meta+I", "Alt+Meta+J", "Alt+Meta+C", "Meta+U",
		// save, print, find, select-all, copy, paste, cut
		"Ctrl+S", "Ctrl+P", "Ctrl+F", "Ctrl+A", "Ctrl+C", "Ctrl+V", "Ctrl+X",
		"Meta+S", "Meta+P", "Meta+F", "Meta+A", "Meta+C", "Meta+V", "Meta+X",
		// refresh
		"F5", "Ctrl+R", "Ctrl+Shift+R", "Meta+R", "Shift+Meta+R",
		// new tab, new window, close tab
		"Ctrl+T", "Ctrl+N", "Ctrl+W", "Ctrl+Shift+N", "Ctrl+Shift+T",
		"Meta+T", "Meta+N", "Meta+W",
		// window switching
		"Alt+TAB", "Alt+F4",
		// bare function keys
		"F1", "F2", "F3", "F4", "F11",
	}
	for _, c := range combos {
		deniedCombos[NormalizeCombo(c)] = struct{}{}
	}
}

var modifierAliases = map[string]string{
	"CTRL":    "Ctrl",
	"CONTROL": "Ctrl",
	"ALT":     "Alt",
	"OPTION":  "Alt",
	"OPT":     "Alt",
	"SHIFT":   "Shift",
	"META":    "Meta",
	"CMD":     "Meta",
	"COMMAND": "Meta",
	"WIN":     "Meta",
	"SUPER":   "Meta",
}

var modifierOrder = map[string]int{"Ctrl": 0, "Alt": 1, "Shift": 2, "Meta": 3}

// NormalizeCombo canonicalizes a "+"-joined key combination such as
// "shift+ctrl+i" into "Ctrl+Shift+I".
func NormalizeCombo(combo string) string {
	parts := strings.Split(combo, "+")
	mods := make([]string, 0, len(parts))
	key := ""
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if m, ok := modifierAliases[strings.ToUpper(p)]; ok {
			mods = append(mods, m)
			continue
		}
		key = strings.ToUpper(p)
	}
	sort.Slice(mods, func(i, j int) bool { return modifierOrder[mods[i]] < modifierOrder[mods[j]] })

	out := make([]string, 0, len(mods)+1)
	for i, m := range mods {
		if i > 0 && mods[i-1] == m {
			continue
		}
		out = append(out, m)
	}
	if key != "" {
		out = append(out, key)
	}
	return strings.Join(out, "+")
}

// IsDeniedCombo reports whether the combination is on the deny-list.
func IsDeniedCombo(combo string) bool {
	_, ok := deniedCombos[NormalizeCombo(combo)]
	return ok
}

// DenyList returns the canonical deny-list, sorted.
func DenyList() []string {
	out := make([]string, 0, len(deniedCombos))
	for c := range deniedCombos {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
