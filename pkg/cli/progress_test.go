package cli

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSimpleProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "events").(*SimpleProgress)

	start := time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC)
	now := start
	progress.now = func() time.Time { return now }

	progress.Start(100)
	now = start.Add(2 * time.Second)
	progress.Update(50)

	if !strings.Contains(buf.String(), "50.0% (50/100) 25.0 events/s") {
		t.Errorf("unexpected progress line %q", buf.String())
	}

	progress.Finish()
	if !strings.Contains(buf.String(), "(100/100)") || !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("Finish() output = %q", buf.String())
	}
}

func TestSimpleProgress_ClampsOverflow(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "events")

	progress.Start(10)
	progress.Update(25)

	if !strings.Contains(buf.String(), "(10/10)") {
		t.Errorf("Update() beyond total = %q", buf.String())
	}
}

func TestSimpleProgress_ZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "")

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	if strings.Contains(buf.String(), "Progress:") {
		t.Errorf("zero total rendered a bar: %q", buf.String())
	}
}

func TestSimpleProgress_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "events")

	progress.Start(100)
	progress.Error(errors.New("database is locked"))

	if !strings.Contains(buf.String(), "Error: database is locked") {
		t.Errorf("Error() output = %q", buf.String())
	}
}

func TestSimpleProgress_Concurrent(t *testing.T) {
	progress := NewProgressReporter(&bytes.Buffer{}, "events")
	progress.Start(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				progress.Update(int64(start*100 + j))
			}
		}(i)
	}
	wg.Wait()

	progress.Finish()
}
