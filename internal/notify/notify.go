// Package notify delivers weather alerts that fall inside a user alarm.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// Notification pairs an alarm with the weather alert that triggered it.
type Notification struct {
	AlarmID    uuid.UUID           `json:"alarmId"`
	Location   string              `json:"location"`
	Lat        float64             `json:"lat"`
	Lon        float64             `json:"lon"`
	Alert      models.WeatherAlert `json:"alert"`
	NotifiedAt time.Time           `json:"notifiedAt"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// LogNotifier writes each notification as a structured log entry.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info("weather alert",
		zap.String("alarmId", n.AlarmID.String()),
		zap.String("location", n.Location),
		zap.String("event", n.Alert.Event),
		zap.String("sender", n.Alert.SenderName),
		zap.Time("alertStart", n.Alert.Start),
		zap.Time("alertEnd", n.Alert.End),
	)
	return nil
}

func (l *LogNotifier) Close() error {
	return nil
}
