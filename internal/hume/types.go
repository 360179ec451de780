package hume

import "time"

// Frame is one image part of a batch job.
type Frame struct {
	Name      string
	MediaType string
	Data      []byte
}

// Job is the handle of one remote analysis request.
type Job struct {
	ID          string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Prediction is the analysis result for one submitted frame.
type Prediction struct {
	Source string
	Faces  []Face
}

// Face is one detected face with its emotion scores.
type Face struct {
	Emotions []EmotionScore
}

type EmotionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type PollState int

const (
	StateSubmitted PollState = iota
	StatePolling
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s PollState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

const (
	DefaultPollInterval    = time.Second
	DefaultPollMaxAttempts = 120
)

// PollOptions bound the polling loop. OnState, when set, observes every transition.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	OnState     func(state PollState, attempt int)
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultPollMaxAttempts
	}
	return o
}

func (o PollOptions) notify(state PollState, attempt int) {
	if o.OnState != nil {
		o.OnState(state, attempt)
	}
}

// wire shapes of the predictions endpoint

type sourcePredictions struct {
	Source struct {
		Type        string `json:"type"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	} `json:"source"`
	Results *struct {
		Predictions []filePredictions `json:"predictions"`
		Errors      []struct {
			Message string `json:"message"`
			File    string `json:"file"`
		} `json:"errors"`
	} `json:"results"`
	Error string `json:"error"`
}

type filePredictions struct {
	File   string `json:"file"`
	Models struct {
		Face *struct {
			GroupedPredictions []struct {
				ID          string `json:"id"`
				Predictions []struct {
					Frame    int            `json:"frame"`
					Prob     float64        `json:"prob"`
					Emotions []EmotionScore `json:"emotions"`
				} `json:"predictions"`
			} `json:"grouped_predictions"`
		} `json:"face"`
	} `json:"models"`
}

type jobStateBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	State   *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"state"`
}
