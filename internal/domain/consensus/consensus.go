// Package consensus reconciles a set of agent responses into a single
// answer plus an agreement score. Reconcile is pure and deterministic:
// given the same responses and descriptors it always produces the same
// result, which is what makes the orchestrator's round loop testable even
// though the agents themselves are not deterministic.
package consensus

import (
	"errors"
	"time"

	"github.com/Strob0t/Concord/internal/domain/agent"
)

// ErrNoResponses is returned when Reconcile is called with zero successful
// responses. The orchestrator treats an empty round as a round failure and
// must never reach this path.
var ErrNoResponses = errors.New("consensus: no successful responses to reconcile")

// ResponseStatus classifies the outcome of one agent call.
type ResponseStatus string

const (
	StatusOK      ResponseStatus = "ok"
	StatusTimeout ResponseStatus = "timeout"
	StatusError   ResponseStatus = "error"
	StatusSkipped ResponseStatus = "skipped"
)

// Response is one agent's answer within a round. Responses are collected in
// arrival order; that order is the final tie-breaker in Reconcile.
type Response struct {
	AgentName  string         `json:"agent_name"`
	Content    string         `json:"content"`
	Confidence *float64       `json:"self_reported_confidence,omitempty"`
	Latency    time.Duration  `json:"latency"`
	Status     ResponseStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// Result is the reconciled outcome of a round. Immutable once produced.
type Result struct {
	FinalAnswer    string             `json:"final_answer"`
	Confidence     float64            `json:"confidence"`
	AgreementScore float64            `json:"agreement_score"`
	Contributions  map[string]float64 `json:"per_agent_contributions"`
	Rounds         int                `json:"rounds"`
}

// Reconcile computes a weighted vote over the successful responses.
// Each response contributes descriptor.weight x self-reported confidence
// (defaultConfidence when the provider reports none). The response with the
// highest contribution becomes the final answer; ties prefer the higher
// configured descriptor weight, then the earlier arrival.
func Reconcile(responses []Response, descriptors map[string]agent.Descriptor, defaultConfidence float64) (*Result, error) {
	ok := make([]Response, 0, len(responses))
	for _, r := range responses {
		if r.Status == StatusOK {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil, ErrNoResponses
	}

	contributions := make(map[string]float64, len(ok))
	var totalWeight, weightedConf float64
	best := 0
	for i, r := range ok {
		conf := defaultConfidence
		if r.Confidence != nil {
			conf = clamp01(*r.Confidence)
		}
		weight := 1.0
		if d, found := descriptors[r.AgentName]; found {
			weight = d.Weight
		}
		contrib := weight * conf
		contributions[r.AgentName] = contrib
		totalWeight += contrib
		weightedConf += contrib * conf

		if i == 0 {
			continue
		}
		switch {
		case contrib > contributions[ok[best].AgentName]:
			best = i
		case contrib == contributions[ok[best].AgentName]:
			// Tie: prefer the higher configured weight, then arrival order.
			if descriptorWeight(descriptors, r.AgentName) > descriptorWeight(descriptors, ok[best].AgentName) {
				best = i
			}
		}
	}

	res := &Result{
		FinalAnswer:    ok[best].Content,
		AgreementScore: agreement(ok),
		Contributions:  contributions,
	}
	if totalWeight > 0 {
		res.Confidence = clamp01(weightedConf / totalWeight * res.AgreementScore)
	}
	return res, nil
}

// agreement is the average pairwise textual similarity of the responses.
// A single survivor has nothing to disagree with and scores 1.0.
func agreement(responses []Response) float64 {
	if len(responses) == 1 {
		return 1.0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			sum += Similarity(responses[i].Content, responses[j].Content)
			pairs++
		}
	}
	return sum / float64(pairs)
}

func descriptorWeight(descriptors map[string]agent.Descriptor, name string) float64 {
	if d, found := descriptors[name]; found {
		return d.Weight
	}
	return 1.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
