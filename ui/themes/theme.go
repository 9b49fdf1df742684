// Package themes holds the selectable color palettes for the console.
package themes

import (
	"fmt"
	"math/rand/v2"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type ThemeName string

const (
	ThemeSolarized     ThemeName = "solarized"
	ThemeGruvbox       ThemeName = "gruvbox"
	ThemeZenburn       ThemeName = "zenburn"
	ThemeApprentice    ThemeName = "apprentice"
	ThemeCyberpunk     ThemeName = "cyberpunk"
	ThemeCherryblossom ThemeName = "cherryblossom"
	ThemeRandom        ThemeName = "random"
)

// concreteThemes orders the palettes for menus. ThemeRandom is not a
// palette of its own; Names prepends it and byName resolves it to one
// of these.
var concreteThemes = []ThemeName{
	ThemeSolarized,
	ThemeGruvbox,
	ThemeZenburn,
	ThemeApprentice,
	ThemeCyberpunk,
	ThemeCherryblossom,
}

// Theme mirrors the tview style fields the console sets.
type Theme struct {
	PrimitiveBackgroundColor    tcell.Color
	ContrastBackgroundColor     tcell.Color
	MoreContrastBackgroundColor tcell.Color
	BorderColor                 tcell.Color
	TitleColor                  tcell.Color
	GraphicsColor               tcell.Color
	PrimaryTextColor            tcell.Color
	SecondaryTextColor          tcell.Color
	TertiaryTextColor           tcell.Color
	InverseTextColor            tcell.Color
	ContrastSecondaryTextColor  tcell.Color
}

// rgb keeps the palette table readable.
func rgb(r, g, b int32) tcell.Color {
	return tcell.NewRGBColor(r, g, b)
}

var palettes = map[ThemeName]Theme{
	// Solarized Dark, https://ethanschoonover.com/solarized
	ThemeSolarized: {
		PrimitiveBackgroundColor:    rgb(0, 43, 54),
		ContrastBackgroundColor:     rgb(7, 54, 66),
		MoreContrastBackgroundColor: rgb(88, 110, 117),
		BorderColor:                 rgb(131, 148, 150),
		TitleColor:                  rgb(147, 161, 161),
		GraphicsColor:               rgb(131, 148, 150),
		PrimaryTextColor:            rgb(131, 148, 150),
		SecondaryTextColor:          rgb(181, 137, 0),
		TertiaryTextColor:           rgb(42, 161, 152),
		InverseTextColor:            rgb(253, 246, 227),
		ContrastSecondaryTextColor:  rgb(238, 232, 213),
	},
	// Gruvbox Dark, https://github.com/morhetz/gruvbox
	ThemeGruvbox: {
		PrimitiveBackgroundColor:    rgb(40, 40, 40),
		ContrastBackgroundColor:     rgb(60, 56, 54),
		MoreContrastBackgroundColor: rgb(80, 73, 69),
		BorderColor:                 rgb(146, 131, 116),
		TitleColor:                  rgb(251, 241, 199),
		GraphicsColor:               rgb(146, 131, 116),
		PrimaryTextColor:            rgb(235, 219, 178),
		SecondaryTextColor:          rgb(215, 153, 33),
		TertiaryTextColor:           rgb(104, 157, 106),
		InverseTextColor:            rgb(251, 241, 199),
		ContrastSecondaryTextColor:  rgb(235, 219, 178),
	},
	// Zenburn, low contrast and easy on the eyes
	ThemeZenburn: {
		PrimitiveBackgroundColor:    rgb(63, 63, 63),
		ContrastBackgroundColor:     rgb(48, 48, 48),
		MoreContrastBackgroundColor: rgb(39, 39, 39),
		BorderColor:                 rgb(220, 220, 204),
		TitleColor:                  rgb(255, 255, 255),
		GraphicsColor:               rgb(220, 220, 204),
		PrimaryTextColor:            rgb(220, 220, 204),
		SecondaryTextColor:          rgb(227, 206, 171),
		TertiaryTextColor:           rgb(147, 224, 227),
		InverseTextColor:            rgb(255, 255, 255),
		ContrastSecondaryTextColor:  rgb(220, 220, 204),
	},
	// Apprentice, https://github.com/romainl/Apprentice
	ThemeApprentice: {
		PrimitiveBackgroundColor:    rgb(38, 38, 38),
		ContrastBackgroundColor:     rgb(28, 28, 28),
		MoreContrastBackgroundColor: rgb(17, 17, 17),
		BorderColor:                 rgb(108, 108, 108),
		TitleColor:                  rgb(255, 255, 255),
		GraphicsColor:               rgb(108, 108, 108),
		PrimaryTextColor:            rgb(188, 188, 188),
		SecondaryTextColor:          rgb(135, 135, 95),
		TertiaryTextColor:           rgb(95, 135, 135),
		InverseTextColor:            rgb(255, 255, 255),
		ContrastSecondaryTextColor:  rgb(188, 188, 188),
	},
	// Neon on dark purple
	ThemeCyberpunk: {
		PrimitiveBackgroundColor:    rgb(16, 13, 35),
		ContrastBackgroundColor:     rgb(30, 29, 69),
		MoreContrastBackgroundColor: rgb(12, 10, 25),
		BorderColor:                 rgb(0, 255, 255),
		TitleColor:                  rgb(0, 255, 255),
		GraphicsColor:               rgb(255, 0, 255),
		PrimaryTextColor:            rgb(0, 255, 156),
		SecondaryTextColor:          rgb(255, 255, 0),
		TertiaryTextColor:           rgb(0, 255, 255),
		InverseTextColor:            rgb(0, 255, 255),
		ContrastSecondaryTextColor:  rgb(0, 255, 106),
	},
	// Soft pinks on warm brown
	ThemeCherryblossom: {
		PrimitiveBackgroundColor:    rgb(39, 19, 6),
		ContrastBackgroundColor:     rgb(56, 28, 18),
		MoreContrastBackgroundColor: rgb(73, 37, 30),
		BorderColor:                 rgb(184, 116, 157),
		TitleColor:                  rgb(255, 230, 245),
		GraphicsColor:               rgb(210, 140, 175),
		PrimaryTextColor:            rgb(247, 206, 224),
		SecondaryTextColor:          rgb(255, 192, 203),
		TertiaryTextColor:           rgb(230, 200, 230),
		InverseTextColor:            rgb(255, 230, 245),
		ContrastSecondaryTextColor:  rgb(247, 206, 224),
	},
}

// ApplyByName installs the named palette into tview's global styles.
func ApplyByName(app *tview.Application, name string) error {
	theme, err := byName(ThemeName(name))
	if err != nil {
		return err
	}
	theme.Apply(app)
	return nil
}

// Names returns the selectable theme names, "random" first.
func Names() []string {
	out := make([]string, 0, len(concreteThemes)+1)
	out = append(out, string(ThemeRandom))
	for _, name := range concreteThemes {
		out = append(out, string(name))
	}
	return out
}

func byName(name ThemeName) (Theme, error) {
	if name == ThemeRandom {
		name = concreteThemes[rand.IntN(len(concreteThemes))] // #nosec G404 // theme choice needs no secure randomness
	}
	theme, ok := palettes[name]
	if !ok {
		return Theme{}, fmt.Errorf("invalid theme name: %s", name)
	}
	return theme, nil
}

// Apply writes the palette into tview.Styles. tview reads styles from
// the package global, so the application parameter is only kept for
// call-site symmetry.
func (t Theme) Apply(app *tview.Application) {
	tview.Styles.PrimitiveBackgroundColor = t.PrimitiveBackgroundColor
	tview.Styles.ContrastBackgroundColor = t.ContrastBackgroundColor
	tview.Styles.MoreContrastBackgroundColor = t.MoreContrastBackgroundColor
	tview.Styles.BorderColor = t.BorderColor
	tview.Styles.TitleColor = t.TitleColor
	tview.Styles.GraphicsColor = t.GraphicsColor
	tview.Styles.PrimaryTextColor = t.PrimaryTextColor
	tview.Styles.SecondaryTextColor = t.SecondaryTextColor
	tview.Styles.TertiaryTextColor = t.TertiaryTextColor
	tview.Styles.InverseTextColor = t.InverseTextColor
	tview.Styles.ContrastSecondaryTextColor = t.ContrastSecondaryTextColor
}
