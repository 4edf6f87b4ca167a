// ABOUTME: Capture TUI showing live level, format and session quality
// ABOUTME: Real-time status display using bubbletea and lipgloss
package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/capturekit/capture-go/pkg/audio"
)

// sessionStatus is the shared state the capture path updates and the TUI
// renders once per tick.
type sessionStatus struct {
	mu sync.Mutex

	device   string
	format   string
	loopback bool

	packets int64
	frames  int64
	peak    float64

	glitches        int
	discontinuities int
}

func (s *sessionStatus) snapshot() sessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionStatus{
		device:          s.device,
		format:          s.format,
		loopback:        s.loopback,
		packets:         s.packets,
		frames:          s.frames,
		peak:            s.peak,
		glitches:        s.glitches,
		discontinuities: s.discontinuities,
	}
}

// levelMeter is a capture consumer that tracks delivery counts and the peak
// sample level of the most recent packet.
type levelMeter struct {
	status *sessionStatus
}

func (l *levelMeter) OnData(pkt *audio.Packet, _ time.Time, _ float64) {
	peak := packetPeak(pkt)
	l.status.mu.Lock()
	l.status.packets++
	l.status.frames += int64(pkt.Frames)
	l.status.peak = peak
	l.status.mu.Unlock()
}

func (l *levelMeter) OnError() {}

// packetPeak returns the largest absolute sample as a fraction of full
// scale.
func packetPeak(pkt *audio.Packet) float64 {
	if pkt.Format.BitDepth != 16 {
		return 0
	}
	var peak float64
	for i := 0; i+1 < len(pkt.Data); i += 2 {
		s := int16(uint16(pkt.Data[i]) | uint16(pkt.Data[i+1])<<8)
		v := math.Abs(float64(s)) / 32768.0
		if v > peak {
			peak = v
		}
	}
	return peak
}

type tickMsg time.Time

func tickEvery() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// tuiModel is the bubbletea model for the capture TUI.
type tuiModel struct {
	status    *sessionStatus
	view      sessionStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

func newTUIModel(status *sessionStatus, quitChan chan struct{}) tuiModel {
	return tuiModel{
		status:    status,
		startTime: time.Now(),
		quitChan:  quitChan,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		m.view = m.status.snapshot()
		return m, tickEvery()
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Stopping capture...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	warnStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Audio Capture"))
	b.WriteString("\n\n")

	source := m.view.device
	if m.view.loopback {
		source += " (loopback)"
	}
	b.WriteString(headerStyle.Render("Source: "))
	b.WriteString(valueStyle.Render(source))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Format: "))
	b.WriteString(valueStyle.Render(m.view.format))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Level:  "))
	b.WriteString(renderLevel(m.view.peak))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Packets: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d (%d frames)", m.view.packets, m.view.frames)))
	b.WriteString("\n")

	quality := "none"
	if m.view.glitches > 0 || m.view.discontinuities > 0 {
		quality = fmt.Sprintf("%d glitches, %d discontinuities", m.view.glitches, m.view.discontinuities)
		b.WriteString(headerStyle.Render("Dropouts: "))
		b.WriteString(warnStyle.Render(quality))
	} else {
		b.WriteString(headerStyle.Render("Dropouts: "))
		b.WriteString(valueStyle.Render(quality))
	}
	b.WriteString("\n\n")

	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to stop"))
	b.WriteString("\n")

	return b.String()
}

// renderLevel draws a 30-cell peak meter.
func renderLevel(peak float64) string {
	const cells = 30
	lit := int(peak * cells)
	if lit > cells {
		lit = cells
	}

	barStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	if peak > 0.9 {
		barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	}
	return barStyle.Render(strings.Repeat("█", lit)) +
		lipgloss.NewStyle().Faint(true).Render(strings.Repeat("░", cells-lit))
}
