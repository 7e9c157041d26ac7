package service

import "time"

// Option overrides a client default for one call
type Option func(*callOptions)

type callOptions struct {
	batchSize      int
	timeout        time.Duration
	pollInterval   time.Duration
	sendNulls      bool
	nullExclusions []string
	serial         bool
	getResults     bool
}

// WithBatchSize caps the records per batch
func WithBatchSize(n int) Option {
	return func(o *callOptions) { o.batchSize = n }
}

// WithTimeout bounds how long the call waits for batches
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}

// WithPollInterval sets the pause between status rounds
func WithPollInterval(d time.Duration) Option {
	return func(o *callOptions) { o.pollInterval = d }
}

// WithSendNulls sends empty fields as explicit nulls, except the excluded ones
func WithSendNulls(exclusions ...string) Option {
	return func(o *callOptions) {
		o.sendNulls = true
		o.nullExclusions = exclusions
	}
}

// WithSerial asks the platform to process batches one at a time
func WithSerial() Option {
	return func(o *callOptions) { o.serial = true }
}

// WithResults makes the call wait for the batches and collect their results
func WithResults() Option {
	return func(o *callOptions) { o.getResults = true }
}

func (c *Client) resolve(opts []Option) callOptions {
	o := callOptions{
		batchSize:      c.defaults.BatchSize,
		timeout:        c.defaults.Timeout,
		pollInterval:   c.defaults.PollInterval,
		sendNulls:      c.defaults.SendNulls,
		nullExclusions: c.defaults.NullExclusions,
		serial:         c.defaults.Serial,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
