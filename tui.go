package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loopcap/dsp"
	"loopcap/recorder"
	"loopcap/sink"
)

// TUI message types
type levelMsg struct {
	Level    float64
	Buffered time.Duration
}
type segmentMsg struct{ Result sink.Result }
type segmentFailedMsg struct {
	Seq int
	Err error
}
type doneMsg struct{}
type tickMsg time.Time

const (
	maxSegmentLines = 8
	meterWidth      = 40
	meterFloorDB    = -60.0
)

type segmentLine struct {
	seq    int
	text   string
	failed bool
}

type tuiModel struct {
	header    string
	threshold float64
	stop      func()

	started  time.Time
	elapsed  time.Duration
	level    float64
	peak     float64
	buffered time.Duration
	segments []segmentLine
	written  int
	failed   int
	stopping bool
	width    int
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	signalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	meterLowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterHiStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	markStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
)

func newTUIModel(header string, threshold float64, stop func()) tuiModel {
	return tuiModel{header: header, threshold: threshold, stop: stop, started: time.Now()}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.stopping {
				m.stopping = true
				if m.stop != nil {
					m.stop()
				}
			}
		}

	case tickMsg:
		m.elapsed = time.Since(m.started)
		return m, tuiTick()

	case levelMsg:
		// Light smoothing so the meter does not jump between chunks.
		m.level = m.level*0.3 + msg.Level*0.7
		if msg.Level > m.peak {
			m.peak = msg.Level
		}
		m.buffered = msg.Buffered

	case segmentMsg:
		m.written++
		r := msg.Result
		m.addSegment(segmentLine{
			seq:  r.Seq,
			text: fmt.Sprintf("#%04d  %6.1fs  %7.1f KB  %s", r.Seq, r.Duration.Seconds(), float64(r.Bytes)/1024, filepath.Base(r.Path)),
		})

	case segmentFailedMsg:
		m.failed++
		m.addSegment(segmentLine{
			seq:    msg.Seq,
			text:   fmt.Sprintf("#%04d  failed: %v", msg.Seq, msg.Err),
			failed: true,
		})

	case doneMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *tuiModel) addSegment(l segmentLine) {
	m.segments = append(m.segments, l)
	if len(m.segments) > maxSegmentLines {
		m.segments = m.segments[len(m.segments)-maxSegmentLines:]
	}
}

func (m tuiModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("loopcap "+version) + "\n")
	b.WriteString(dimStyle.Render(m.header) + "\n\n")

	b.WriteString(renderMeter(m.level, m.threshold) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("level %6.1f dBFS   peak %6.1f dBFS", dsp.LinearToDB(m.level), dsp.LinearToDB(m.peak))) + "\n\n")

	switch {
	case m.stopping:
		b.WriteString(dimStyle.Render("stopping, flushing buffered audio...") + "\n")
	case m.buffered > 0:
		b.WriteString(signalStyle.Render(fmt.Sprintf("● SIGNAL  %.1fs buffered", m.buffered.Seconds())) + "\n")
	default:
		b.WriteString(dimStyle.Render("○ WAITING") + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("running %s   written %d   failed %d", m.elapsed.Truncate(time.Second), m.written, m.failed)) + "\n\n")

	if len(m.segments) == 0 {
		b.WriteString(dimStyle.Render("No segments yet") + "\n")
	}
	for _, s := range m.segments {
		if s.failed {
			b.WriteString(failStyle.Render(s.text) + "\n")
		} else {
			b.WriteString(okStyle.Render(s.text) + "\n")
		}
	}

	b.WriteString("\n" + helpStyle.Render("q / ctrl+c to stop"))
	return b.String()
}

// renderMeter draws a dBFS bar with the silence threshold marked.
func renderMeter(level, threshold float64) string {
	pos := func(v float64) int {
		db := dsp.LinearToDB(v)
		if db <= meterFloorDB {
			return 0
		}
		if db >= 0 {
			return meterWidth
		}
		return int((db - meterFloorDB) / -meterFloorDB * meterWidth)
	}
	filled := pos(level)
	mark := pos(threshold)

	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < meterWidth; i++ {
		switch {
		case i == mark && i >= filled:
			b.WriteString(markStyle.Render("|"))
		case i < filled && i >= mark:
			b.WriteString(meterHiStyle.Render("█"))
		case i < filled:
			b.WriteString(meterLowStyle.Render("█"))
		default:
			b.WriteString(" ")
		}
	}
	b.WriteString("]")
	return b.String()
}

// tuiReporter forwards capture-loop progress to the TUI.
type tuiReporter struct {
	p *tea.Program
}

func (r tuiReporter) Progress(level float64, buffered time.Duration) {
	r.p.Send(levelMsg{Level: level, Buffered: buffered})
}

func (r tuiReporter) SegmentWritten(res sink.Result) {
	r.p.Send(segmentMsg{Result: res})
}

func (r tuiReporter) SegmentFailed(err *recorder.SinkError) {
	r.p.Send(segmentFailedMsg{Seq: err.Seq, Err: err.Err})
}
