// Package display renders calibration results the way the evaluation board
// shows them on its LCD and status LED.
package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"periph.io/x/conn/v3/physic"

	"github.com/charlie0129/rccal/pkg/calibration"
)

// Report is what the board shows after a calibration.
type Report struct {
	Status   calibration.Status `json:"status"`
	BeforeHz uint32             `json:"beforeHz"`
	AfterHz  uint32             `json:"afterHz"`
}

// Display shows calibration reports.
type Display interface {
	Show(r Report) error
}

// Frequency formats hz with an SI prefix, e.g. 16.001MHz.
func Frequency(hz uint32) string {
	return (physic.Frequency(hz) * physic.Hertz).String()
}

// Lines returns the two LCD lines for r.
func Lines(r Report) [2]string {
	return [2]string{
		"Before: " + Frequency(r.BeforeHz),
		"After:  " + Frequency(r.AfterHz),
	}
}

// Terminal writes reports to a terminal. The status keyword is colored like
// the board LED: green on success, red on failure.
type Terminal struct {
	W io.Writer
}

var _ Display = &Terminal{}

func (t *Terminal) Show(r Report) error {
	var status string
	if r.Status == calibration.StatusSuccess {
		status = color.New(color.Bold, color.FgGreen).Sprint("SUCCESS")
	} else {
		status = color.New(color.Bold, color.FgRed).Sprint("FAIL")
	}

	lines := Lines(r)
	_, err := fmt.Fprintf(t.W, "%s\n%s\n%s\n", lines[0], lines[1], status)
	return err
}

// Recorder keeps every report it is shown.
type Recorder struct {
	Reports []Report
}

var _ Display = &Recorder{}

func (rec *Recorder) Show(r Report) error {
	rec.Reports = append(rec.Reports, r)
	return nil
}

// String renders r without color, for logs.
func (r Report) String() string {
	lines := Lines(r)
	status := "FAIL"
	if r.Status == calibration.StatusSuccess {
		status = "SUCCESS"
	}
	return strings.Join([]string{lines[0], lines[1], status}, " | ")
}
