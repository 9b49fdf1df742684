package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/magpievoice/magpie/config"
	"github.com/magpievoice/magpie/ui/themes"
)

// showSettings displays the console settings form. Server URL and theme
// take effect on the next start; notifications apply immediately.
func (c *Console) showSettings() {
	configPath := c.configPath
	if configPath == "" {
		configPath = config.GetClientConfigPath()
	}

	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(c.transcript, "[red]Error loading config: %v[white]\n\n", err)
		c.transcript.ScrollToEnd()
		return
	}

	serverURL := cfg.ServerURL
	themeName := cfg.Theme
	if themeName == "" {
		themeName = c.cfg.Theme
	}
	notify := cfg.Notify

	themeNames := themes.Names()
	themeIndex := 0
	for i, name := range themeNames {
		if name == themeName {
			themeIndex = i
			break
		}
	}

	form := tview.NewForm()
	form.SetBorder(true).SetTitle("Settings (Tab: navigate, Esc: back)")

	form.AddInputField("Server URL", serverURL, 40, nil, func(text string) {
		serverURL = text
	})
	form.AddDropDown("Theme", themeNames, themeIndex, func(option string, _ int) {
		themeName = option
	})
	form.AddCheckbox("Desktop notifications", notify, func(checked bool) {
		notify = checked
	})

	backToConsole := func() {
		c.pages.SwitchToPage("console")
		c.app.SetFocus(c.input)
	}

	form.AddButton("Save", func() {
		cfg.ServerURL = strings.TrimSpace(serverURL)
		cfg.Theme = themeName
		cfg.Notify = notify

		if err := config.SaveClientConfig(cfg, configPath); err != nil {
			c.logger.Error().Err(err).Msg("Failed to save config")
			modal := tview.NewModal().
				SetText(fmt.Sprintf("Error saving config:\n%v\n\nPress Enter to continue.", err)).
				AddButtons([]string{"OK"}).
				SetDoneFunc(func(buttonIndex int, buttonLabel string) {
					c.pages.RemovePage("settings_modal")
				})
			c.pages.AddPage("settings_modal", modal, true, true)
			return
		}

		c.cfg.Notify = notify

		modal := tview.NewModal().
			SetText("Settings saved. Server URL and theme apply on the next start.").
			AddButtons([]string{"OK"}).
			SetDoneFunc(func(buttonIndex int, buttonLabel string) {
				c.pages.RemovePage("settings_modal")
				c.pages.RemovePage("settings")
				backToConsole()
			})
		c.pages.AddPage("settings_modal", modal, true, true)
	})

	form.AddButton("Cancel", func() {
		c.pages.RemovePage("settings")
		backToConsole()
	})

	form.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEsc {
			c.pages.RemovePage("settings")
			backToConsole()
			return nil
		}
		return ev
	})

	c.pages.AddPage("settings", form, true, false)
	c.pages.SwitchToPage("settings")
	c.app.SetFocus(form)
}
