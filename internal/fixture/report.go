package fixture

import (
	"strconv"
	"strings"
	"time"

	"github.com/bueller/bueller/internal/ui"
)

const resultsRule = "================================"

// PrintSummary writes the end-of-run report.
func PrintSummary(p *ui.Printer, s Summary) {
	p.Println()
	p.Println(resultsRule)
	p.Println(p.Bold("Test Results"))
	p.Println(resultsRule)
	p.Printf("Total:  %d\n", s.Total)
	p.Printf("Passed: %s\n", p.Pass(strconv.Itoa(s.Passed)))
	failed := strconv.Itoa(s.Failed)
	if s.Failed > 0 {
		failed = p.Fail(failed)
	}
	p.Printf("Failed: %s\n", failed)
	p.Println()

	if s.OK() {
		p.Printf("%s All tests passed!\n", p.PassIcon())
		return
	}
	p.Println("Failed tests:")
	for _, name := range s.FailedNames() {
		p.Printf("  - %s\n", name)
	}
	p.Println()
	p.Printf("Test artifacts preserved in: %s\n", p.Muted(s.TempBase))
}

// PrintResult writes the status line of a finished fixture followed by any
// assertion failures.
func PrintResult(p *ui.Printer, r Result) {
	switch {
	case r.Passed:
		p.Printf("%s %s %s\n", p.PassIcon(), r.Name, p.Muted(r.Duration.Round(time.Millisecond).String()))
		return
	case r.Timeout:
		p.Printf("%s %s %s\n", p.FailIcon(), r.Name, p.Fail("(timeout)"))
	default:
		p.Printf("%s %s\n", p.FailIcon(), r.Name)
	}
	if r.Err == nil {
		return
	}
	for _, line := range strings.Split(r.Err.Error(), "\n") {
		p.Printf("    %s\n", p.Muted(line))
	}
}
