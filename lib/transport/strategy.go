// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "fmt"

// Strategy names a delivery mechanism.
type Strategy string

const (
	// Auto lets the Selector decide by batch size.
	Auto   Strategy = "auto"
	Beacon Strategy = "beacon"
	XHR    Strategy = "xhr"
	Image  Strategy = "img"
)

// ParseStrategy validates a strategy name. The empty string selects
// Auto.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "", Auto:
		return Auto, nil
	case Beacon, XHR, Image:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("unknown delivery strategy %q (want auto, beacon, xhr, or img)", name)
	}
}

// DefaultImageBatchThreshold is the batch size above which Auto picks
// the pixel strategy. It sits below the queue's default batch size of
// 10 so full batches go by pixel.
const DefaultImageBatchThreshold = 5

// Selector picks a strategy for one dispatch.
type Selector struct {
	// Configured is the operator's choice. Explicit strategies are
	// honoured for non-urgent dispatch.
	Configured Strategy

	// BeaconSupported reports whether the host has a beacon primitive.
	BeaconSupported bool

	// ImageBatchThreshold overrides DefaultImageBatchThreshold when
	// positive.
	ImageBatchThreshold int
}

// Select returns the strategy for a dispatch of batchSize events.
// Urgent dispatch prefers Beacon and otherwise uses XHR, whatever the
// configured strategy.
func (selector Selector) Select(urgent bool, batchSize int) Strategy {
	if urgent {
		if selector.BeaconSupported {
			return Beacon
		}
		return XHR
	}
	switch selector.Configured {
	case Beacon:
		if selector.BeaconSupported {
			return Beacon
		}
		return XHR
	case XHR, Image:
		return selector.Configured
	}
	threshold := selector.ImageBatchThreshold
	if threshold <= 0 {
		threshold = DefaultImageBatchThreshold
	}
	if batchSize > threshold {
		return Image
	}
	return XHR
}
