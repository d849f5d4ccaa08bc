package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	app       lipgloss.Style
	title     lipgloss.Style
	dim       lipgloss.Style
	header    lipgloss.Style
	selected  lipgloss.Style
	border    lipgloss.Style
	badge     lipgloss.Style
	status    lipgloss.Style
	err       lipgloss.Style
	tabActive lipgloss.Style
	tab       lipgloss.Style
	codes     map[int]lipgloss.Style
}

func newStyles() styles {
	return styles{
		app:       lipgloss.NewStyle().Padding(0, 1),
		title:     lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true).Underline(true),
		selected:  lipgloss.NewStyle().Background(lipgloss.Color("237")).Foreground(lipgloss.Color("231")),
		border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")),
		badge:     lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("81")).Padding(0, 1),
		status:    lipgloss.NewStyle().Foreground(lipgloss.Color("229")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		tabActive: lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("62")).Padding(0, 1),
		tab:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1),
		codes: map[int]lipgloss.Style{
			2: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
			3: lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
			4: lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
			5: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		},
	}
}

func (s styles) statusCode(code int) lipgloss.Style {
	if st, ok := s.codes[code/100]; ok {
		return st
	}
	return s.dim
}
