package linkz

import (
	"errors"
	"log/slog"
)

var partitionSignature = Signature{
	{Name: "link", Type: LinkParam, Required: true, Doc: "link applied to every partition"},
	{Name: "partition_size", Type: Int, Nullable: true, Doc: "rows per partition"},
	{Name: "num_partitions", Type: Int, Nullable: true, Doc: "number of partitions"},
}

// coreClasses are the composite links every registry knows.
func coreClasses() []Class {
	return []Class{
		{
			Kind:    ChainKind,
			Tooltip: "Runs links one after the other, feeding each the previous output.",
			Signature: Signature{
				{Name: "links", Type: LinksParam, Required: true, Doc: "links in execution order"},
			},
			New: func(p Params) (Link, error) {
				return NewChain(p.Links("links")...), nil
			},
		},
		{
			Kind:    UnionKind,
			Tooltip: "Runs two links on the same input and merges their columns.",
			Signature: Signature{
				{Name: "left", Type: LinkParam, Required: true},
				{Name: "right", Type: LinkParam, Required: true},
			},
			New: func(p Params) (Link, error) {
				return NewUnion(p.Link("left"), p.Link("right")), nil
			},
		},
		{
			Kind:      SerialPartitionKind,
			Tooltip:   "Applies a link to row partitions one at a time to bound memory.",
			Signature: partitionSignature,
			New: func(p Params) (Link, error) {
				s, err := NewSerialPartition(p.Link("link"), partitioningFrom(p))
				if err != nil {
					return nil, err
				}
				return s, nil
			},
		},
		{
			Kind:    ParallelPartitionKind,
			Tooltip: "Applies a link to row partitions concurrently on a bounded worker pool.",
			Signature: append(append(Signature{}, partitionSignature...),
				ParamSpec{Name: "workers", Type: Int, Default: 0, Doc: "worker bound, 0 for one per CPU"},
				ParamSpec{Name: "isolate", Type: Bool, Default: false, Doc: "rebuild the link for every partition"},
			),
			New: func(p Params) (Link, error) {
				pp, err := NewParallelPartition(p.Link("link"), partitioningFrom(p), ParallelOptions{
					Workers: p.Int("workers"),
					Isolate: p.Bool("isolate"),
				})
				if err != nil {
					return nil, err
				}
				return pp, nil
			},
		},
		{
			Kind:    TimeoutKind,
			Tooltip: "Fails a link that runs longer than a deadline.",
			Signature: Signature{
				{Name: "link", Type: LinkParam, Required: true},
				{Name: "seconds", Type: Float, Required: true, Doc: "deadline in seconds"},
			},
			New: func(p Params) (Link, error) {
				if p.Float("seconds") <= 0 {
					return nil, &ConfigurationError{Class: TimeoutKind.String(), Param: "seconds", Err: errors.New("must be positive")}
				}
				return NewTimeout(p.Link("link"), durationFrom(p.Float("seconds"))), nil
			},
		},
		{
			Kind:    RetryKind,
			Tooltip: "Reapplies a failing link, optionally waiting between attempts.",
			Signature: Signature{
				{Name: "link", Type: LinkParam, Required: true},
				{Name: "attempts", Type: Int, Default: 3},
				{Name: "backoff", Type: Float, Default: 0.0, Doc: "first wait in seconds, doubled per attempt"},
			},
			New: func(p Params) (Link, error) {
				if p.Int("attempts") < 1 {
					return nil, &ConfigurationError{Class: RetryKind.String(), Param: "attempts", Err: errors.New("must be at least 1")}
				}
				if p.Float("backoff") < 0 {
					return nil, &ConfigurationError{Class: RetryKind.String(), Param: "backoff", Err: errors.New("must not be negative")}
				}
				return NewRetry(p.Link("link"), p.Int("attempts"), durationFrom(p.Float("backoff"))), nil
			},
		},
		{
			Kind:    FallbackKind,
			Tooltip: "Tries links in order and keeps the first that succeeds.",
			Signature: Signature{
				{Name: "links", Type: LinksParam, Required: true, Doc: "primary link first"},
			},
			New: func(p Params) (Link, error) {
				links := p.Links("links")
				if len(links) == 0 {
					return nil, &ConfigurationError{Class: FallbackKind.String(), Param: "links", Err: errors.New("at least one link is required")}
				}
				return NewFallback(links[0], links[1:]...), nil
			},
		},
	}
}

func logger(kind Kind) *slog.Logger {
	return slog.Default().With("link", kind.String())
}
