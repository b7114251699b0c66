// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package progress displays a command-line progress bar for a train.Loop, with a table of the training
// metrics and of extra values (metric cache refreshes, metric volume, etc.) below it.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraFn returns a name and a value to display along the progress bar. It is called at every update.
type ExtraFn func() (name, value string)

// RefreshPeriod is the maximum time between terminal updates.
var RefreshPeriod = time.Second * 3

// Theme of the bar. Consider progressbar.ThemeUnicode if the terminal supports it.
var Theme = progressbar.ThemeASCII

// HookName used to register the hooks in the train.Loop.
const HookName = "autoencoders.internal.progress"

// maxUpdateFrequency limits the rate of redraws of the stats table.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

type update struct {
	amount int
	rows   [][2]string
}

// Bar is a progress bar attached to a train.Loop.
type Bar struct {
	out          io.Writer
	term         *termenv.Output
	bar          *progressbar.ProgressBar
	statsStyle   lipgloss.Style
	statsTable   *lgtable.Table
	extraFns     []ExtraFn
	lastReported int
	linesDrawn   int

	updates chan update
	done    sync.WaitGroup
}

// Attach creates a progress bar writing to os.Stdout and attaches it to the loop.
func Attach(loop *train.Loop, extraFns ...ExtraFn) *Bar {
	return AttachTo(os.Stdout, loop, extraFns...)
}

// AttachTo is like Attach, but writes to out.
func AttachTo(out io.Writer, loop *train.Loop, extraFns ...ExtraFn) *Bar {
	pBar := &Bar{
		out:        out,
		term:       termenv.NewOutput(out),
		statsStyle: lipgloss.NewStyle().PaddingLeft(8),
		extraFns:   extraFns,
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	loop.OnStart(HookName, 0, pBar.onStart)
	train.NTimesDuringLoop(loop, 1000, HookName, 0, pBar.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, HookName, 0, pBar.onStep)
	loop.OnEnd(HookName, 0, pBar.onEnd)
	return pBar
}

func (pBar *Bar) onStart(loop *train.Loop, _ train.Dataset) error {
	pBar.lastReported = loop.LoopStep
	numSteps := 1000 // Guess for unknown end.
	if loop.EndStep >= 0 {
		numSteps = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(Theme),
		progressbar.OptionSetWriter(pBar.out),
	)
	pBar.linesDrawn = 0
	pBar.updates = make(chan update, 100)
	pBar.done.Add(1)
	go pBar.drawLoop()
	return nil
}

func (pBar *Bar) onStep(loop *train.Loop, metrics []*tensors.Tensor) error {
	if pBar.bar == nil || pBar.bar.IsFinished() {
		return nil
	}
	amount := loop.LoopStep + 1 - pBar.lastReported
	if amount <= 0 {
		return nil
	}
	pBar.lastReported = loop.LoopStep + 1
	pBar.updates <- update{amount: amount, rows: Rows(loop, metrics, pBar.extraFns)}
	return nil
}

func (pBar *Bar) onEnd(_ *train.Loop, _ []*tensors.Tensor) error {
	if pBar.updates != nil {
		close(pBar.updates)
		pBar.done.Wait()
		pBar.updates = nil
	}
	pBar.term.ShowCursor()
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// drawLoop draws the updates asynchronously, merging the ones that queued up while drawing.
func (pBar *Bar) drawLoop() {
	defer pBar.done.Done()
	for upd := range pBar.updates {
		amount := upd.amount
	exhaust:
		for {
			select {
			case next, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += next.amount
				upd = next
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range upd.rows {
			pBar.statsTable.Row(row[0], row[1])
		}
		pBar.term.HideCursor()
		if pBar.linesDrawn > 0 {
			pBar.term.CursorPrevLine(pBar.linesDrawn)
		}
		_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount)
		_, _ = fmt.Fprintln(pBar.out)
		pBar.term.ShowCursor()
		// Table rows, plus top and bottom borders, plus the bar line and its new line.
		pBar.linesDrawn = len(upd.rows) + 2 + 2
		time.Sleep(maxUpdateFrequency)
	}
}

// Rows returns the name/value pairs displayed for the current step of the loop: the step, the median
// step duration, the trainer metrics and the values of the extra functions.
func Rows(loop *train.Loop, metrics []*tensors.Tensor, extraFns []ExtraFn) [][2]string {
	rows := make([][2]string, 0, 2+len(metrics)+len(extraFns))
	rows = append(rows, [2]string{"Global Step", StepsString(loop.LoopStep, loop.EndStep)})
	rows = append(rows, [2]string{"Median train step duration", FormatDuration(loop.MedianTrainStepDuration())})
	if loop.Trainer != nil {
		for ii, metric := range loop.Trainer.TrainMetrics() {
			if ii >= len(metrics) {
				break
			}
			rows = append(rows, [2]string{metric.Name(), metric.PrettyPrint(metrics[ii])})
		}
	}
	for _, fn := range extraFns {
		name, value := fn()
		rows = append(rows, [2]string{name, value})
	}
	return rows
}

// StepsString formats "step of end", with thousands separators. A negative end is omitted.
func StepsString(step, end int) string {
	if end < 0 {
		return humanize.Comma(int64(step))
	}
	return fmt.Sprintf("%s of %s", humanize.Comma(int64(step)), humanize.Comma(int64(end)))
}

// FormatDuration prints a duration without a long list of decimal places.
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	case d >= time.Microsecond:
		return d.Round(10 * time.Nanosecond).String()
	default:
		return d.String()
	}
}
