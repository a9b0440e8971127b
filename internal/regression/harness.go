// Package regression drives the extraction pipeline over a corpus of stored
// OCR annotations and classifies each case against its recorded history:
// cases with no prior failure either stay successful or become new failures,
// cases with a prior failure either stay broken or become new successes.
package regression

import (
	"fmt"
	"sort"
	"sync"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/extract"
	"github.com/receipto/receipto/internal/receipt"
)

// Case is one stored annotation to evaluate. PriorPermits is non-nil when
// the case was previously recorded as having extraction failures; it then
// carries the permits recorded at that time.
type Case struct {
	ImageAddress string
	Annotation   annotation.Annotation
	Context      extract.Context
	Expected     *receipt.Receipt
	PriorPermits *receipt.Permits
}

// CaseDetail is the per-case evidence attached to the report for new
// failures and new successes.
type CaseDetail struct {
	ImageAddress string               `json:"imageAddress"`
	Permits      receipt.Permits      `json:"permits"`
	Failures     []receipt.Failure    `json:"failures"`
	Differences  []receipt.Difference `json:"differences"`
}

// PermitChange records a still-failing case whose permits moved between the
// recorded baseline and this run.
type PermitChange struct {
	ImageAddress string          `json:"imageAddress"`
	PrevPermits  receipt.Permits `json:"prevPermits"`
	Permits      receipt.Permits `json:"permits"`
}

// Report aggregates a full regression run. The counters are always
// consistent: Success+NewFailure = NoFailures, NewSuccess+StillFailure =
// Failures, NoFailures+Failures = Total.
type Report struct {
	Total      int `json:"total"`
	NoFailures int `json:"noFailures"`
	Failures   int `json:"failures"`

	Success      int `json:"success"`
	NewFailure   int `json:"newFailure"`
	StillFailure int `json:"stillFailure"`
	NewSuccess   int `json:"newSuccess"`

	NewFailures   []CaseDetail   `json:"newFailures"`
	NewSuccesses  []CaseDetail   `json:"newSuccesses"`
	PermitChanges []PermitChange `json:"permitChanges"`
}

type kind int

const (
	kindSuccess kind = iota
	kindNewFailure
	kindStillFailure
	kindNewSuccess
)

type caseResult struct {
	kind         kind
	baselineFail bool
	detail       CaseDetail
	permitChange *PermitChange
}

type config struct {
	concurrency int
}

// Option configures a regression run.
type Option func(*config)

// WithConcurrency bounds the case fan-out. Values below one run serially.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

const defaultConcurrency = 8

// Run evaluates every case under the given assembler version and merges the
// per-case classifications into one report. Cases run concurrently up to the
// fan-out bound; tallies are accumulated per case and merged once, so no
// count can be lost to a shared-counter race. Any unexpected per-case error
// aborts the whole run: a partial report would be misleading for a
// regression decision.
func Run(asm extract.Assembler, cases []Case, opts ...Option) (*Report, error) {
	cfg := config{concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	results := make([]caseResult, len(cases))
	errs := make([]error, len(cases))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = evaluate(asm, cases[i])
			}
		}()
	}
	for i := range cases {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", cases[i].ImageAddress, err)
		}
	}

	report := &Report{
		Total:         len(cases),
		NewFailures:   []CaseDetail{},
		NewSuccesses:  []CaseDetail{},
		PermitChanges: []PermitChange{},
	}
	for _, res := range results {
		if res.baselineFail {
			report.Failures++
		} else {
			report.NoFailures++
		}
		switch res.kind {
		case kindSuccess:
			report.Success++
		case kindNewFailure:
			report.NewFailure++
			report.NewFailures = append(report.NewFailures, res.detail)
		case kindStillFailure:
			report.StillFailure++
			if res.permitChange != nil {
				report.PermitChanges = append(report.PermitChanges, *res.permitChange)
			}
		case kindNewSuccess:
			report.NewSuccess++
			report.NewSuccesses = append(report.NewSuccesses, res.detail)
		}
	}

	// Stable ordering for reproducible reports.
	sort.Slice(report.NewFailures, func(i, j int) bool {
		return report.NewFailures[i].ImageAddress < report.NewFailures[j].ImageAddress
	})
	sort.Slice(report.NewSuccesses, func(i, j int) bool {
		return report.NewSuccesses[i].ImageAddress < report.NewSuccesses[j].ImageAddress
	})
	sort.Slice(report.PermitChanges, func(i, j int) bool {
		return report.PermitChanges[i].ImageAddress < report.PermitChanges[j].ImageAddress
	})

	return report, nil
}

// evaluate classifies a single case. Panics escaping the extraction pipeline
// are converted to errors so the caller can abort the batch.
func evaluate(asm extract.Assembler, c Case) (result caseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	normalized := annotation.Normalize(c.Annotation)
	rec, permits, failures := asm.Assemble(normalized, c.Context, c.ImageAddress)

	if c.PriorPermits == nil {
		if c.Expected == nil {
			return caseResult{}, fmt.Errorf("no expected baseline")
		}
		diffs := receipt.Diff(rec, c.Expected)
		if len(diffs) > 0 || len(failures) > 0 || !permits.AllTrue() {
			return caseResult{
				kind: kindNewFailure,
				detail: CaseDetail{
					ImageAddress: c.ImageAddress,
					Permits:      permits,
					Failures:     failures,
					Differences:  diffs,
				},
			}, nil
		}
		return caseResult{kind: kindSuccess}, nil
	}

	// Baseline-failure branch.
	if len(failures) == 0 && permits.AllTrue() {
		var diffs []receipt.Difference
		if c.Expected != nil {
			diffs = receipt.Diff(rec, c.Expected)
		}
		return caseResult{
			kind:         kindNewSuccess,
			baselineFail: true,
			detail: CaseDetail{
				ImageAddress: c.ImageAddress,
				Permits:      permits,
				Failures:     failures,
				Differences:  diffs,
			},
		}, nil
	}

	result = caseResult{kind: kindStillFailure, baselineFail: true}
	if permitsChanged(*c.PriorPermits, permits) {
		result.permitChange = &PermitChange{
			ImageAddress: c.ImageAddress,
			PrevPermits:  *c.PriorPermits,
			Permits:      permits,
		}
	}
	return result, nil
}

// permitsChanged compares the fixed section list the failure records track.
func permitsChanged(prev, now receipt.Permits) bool {
	return prev.Items != now.Items ||
		prev.ReceiptInfo != now.ReceiptInfo ||
		prev.ShopInfo != now.ShopInfo ||
		prev.TaxSummary != now.TaxSummary
}
