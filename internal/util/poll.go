// Copyright 2024 MorphDepot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"time"
)

const (
	defaultPollTimeout  = 5 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// PollConfig bounds a wait on an outside condition, such as a mountpoint
// showing up in the mount table.
type PollConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultPollConfig waits up to 5s, checking every 50ms.
func DefaultPollConfig() PollConfig {
	return PollConfig{Timeout: defaultPollTimeout, Interval: defaultPollInterval}
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultPollTimeout
	}
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	return c
}

// PollUntil checks condition right away and then once per Interval. It
// returns ctx.Err() when ctx ends or Timeout passes first.
func PollUntil(ctx context.Context, cfg PollConfig, condition func() bool) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	for {
		if condition() {
			return nil
		}
		timer := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
