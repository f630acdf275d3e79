package pipeline

import (
	"errors"
	"fmt"

	"github.com/TobiSchelling/gidakurdu/internal/feed"
)

var (
	// ErrInFlight is returned when a trigger arrives while a sync is running.
	// The trigger is dropped, not queued.
	ErrInFlight = errors.New("sync already in progress")
	// ErrExpired means the run's deadline passed before it finished. The
	// watermark is left untouched.
	ErrExpired = errors.New("sync deadline expired")
)

// Category is the user-facing class of a failed sync.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryNetwork       Category = "network"
	CategoryServer        Category = "server"
	CategoryDecoding      Category = "decoding"
	CategoryStorage       Category = "storage"
	CategoryExpired       Category = "expired"
)

// RunError is the translated failure of a sync, as shown to the user.
type RunError struct {
	Category   Category `json:"category"`
	StatusCode int      `json:"status_code,omitempty"`
	Message    string   `json:"message"`
	Err        error    `json:"-"`
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Categorize translates any sync failure into a RunError.
func Categorize(err error) *RunError {
	if err == nil {
		return nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return re
	}

	var fe *feed.Error
	switch {
	case errors.Is(err, ErrExpired):
		return &RunError{Category: CategoryExpired, Message: "Arka plan güncellemesi için ayrılan süre doldu.", Err: err}
	case errors.As(err, &fe):
		switch fe.Kind {
		case feed.KindConfiguration:
			return &RunError{Category: CategoryConfiguration, Message: "Veri kaynağının adresi geçersiz.", Err: err}
		case feed.KindTransport:
			return &RunError{Category: CategoryNetwork, Message: "Sunucuya bağlanılamadı. İnternet bağlantınızı kontrol edin.", Err: err}
		case feed.KindServer:
			return &RunError{
				Category:   CategoryServer,
				StatusCode: fe.StatusCode,
				Message:    fmt.Sprintf("Sunucu hata döndürdü (HTTP %d).", fe.StatusCode),
				Err:        err,
			}
		case feed.KindDecoding:
			return &RunError{Category: CategoryDecoding, Message: "Sunucudan gelen veri okunamadı.", Err: err}
		}
	}
	return &RunError{Category: CategoryStorage, Message: "Yerel veriler okunamadı veya kaydedilemedi.", Err: err}
}
