package submission

import (
	"time"

	"github.com/ternarybob/vetter/internal/common"
)

// Options are the submission settings resolved from configuration
type Options struct {
	AuthorFirst               string
	AuthorLast                string
	MaxTitleLength            int
	Checkboxes                []common.CheckboxRule
	RepositoryValue           string
	LargeFileThreshold        int64
	ProcessingTimeout         time.Duration
	ExtendedProcessingTimeout time.Duration
	ProcessingPollInterval    time.Duration
	ConfirmFallbackTimeout    time.Duration
	ConfirmPollInterval       time.Duration
	ConfirmEnableTimeout      time.Duration
	ReceiptMarkers            []string
	ReceiptAttempts           int
	ReceiptInterval           time.Duration
	StepTimeout               time.Duration
	OptionTimeout             time.Duration
	SettleDelay               time.Duration
	LoginWaitTimeout          time.Duration
}

// NewOptions reads the submission section
func NewOptions(cfg *common.Config) Options {
	s := cfg.Submission
	return Options{
		AuthorFirst:               s.AuthorFirst,
		AuthorLast:                s.AuthorLast,
		MaxTitleLength:            s.MaxTitleLength,
		Checkboxes:                s.Checkboxes,
		RepositoryValue:           s.RepositoryValue,
		LargeFileThreshold:        s.LargeFileThreshold,
		ProcessingTimeout:         common.ParseDuration(s.ProcessingTimeout, 90*time.Second),
		ExtendedProcessingTimeout: common.ParseDuration(s.ExtendedProcessingTimeout, 180*time.Second),
		ProcessingPollInterval:    common.ParseDuration(s.ProcessingPollInterval, 2*time.Second),
		ConfirmFallbackTimeout:    common.ParseDuration(s.ConfirmFallbackTimeout, 30*time.Second),
		ConfirmPollInterval:       common.ParseDuration(s.ConfirmPollInterval, time.Second),
		ConfirmEnableTimeout:      common.ParseDuration(s.ConfirmEnableTimeout, 60*time.Second),
		ReceiptMarkers:            s.ReceiptMarkers,
		ReceiptAttempts:           s.ReceiptAttempts,
		ReceiptInterval:           common.ParseDuration(s.ReceiptInterval, 2*time.Second),
		StepTimeout:               common.ParseDuration(s.StepTimeout, 15*time.Second),
		OptionTimeout:             common.ParseDuration(s.OptionTimeout, 3*time.Second),
		SettleDelay:               common.ParseDuration(s.SettleDelay, 0),
		LoginWaitTimeout:          common.ParseDuration(cfg.Session.LoginWaitTimeout, 2*time.Minute),
	}
}
