// Copyright 2025 Blink Labs Software
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

package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type intakeMetrics struct {
	joins          prometheus.Counter
	promptFailures prometheus.Counter
	choices        *prometheus.CounterVec
}

func (i *Intake) initMetrics() {
	promautoFactory := promauto.With(i.config.PromRegistry)
	i.metrics = &intakeMetrics{
		joins: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tenure_intake_joins_total",
			Help: "member joins recorded",
		}),
		promptFailures: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "tenure_intake_prompt_failures_total",
			Help: "choice prompts that could not be delivered",
		}),
		choices: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenure_intake_choices_total",
				Help: "submitted choices by outcome",
			},
			[]string{"outcome"},
		),
	}
}
