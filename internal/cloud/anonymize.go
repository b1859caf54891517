package cloud

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"babycare-insights/internal/models"
)

// RangeDTO интервал анализа
type RangeDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IntervalDTO пробуждение внутри сна
type IntervalDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SleepRecordDTO обезличенный эпизод сна
type SleepRecordDTO struct {
	ID            string                       `json:"id"`
	Start         time.Time                    `json:"start"`
	End           time.Time                    `json:"end"`
	Interruptions []IntervalDTO                `json:"interruptions,omitempty"`
	Environment   *models.EnvironmentalFactors `json:"environment,omitempty"`
}

// FeedingRecordDTO обезличенное кормление
type FeedingRecordDTO struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AmountML float64   `json:"amount_ml,omitempty"`
}

// ActivityRecordDTO обезличенная активность
type ActivityRecordDTO struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SleepAnalysisRequest тело POST /v1/analysis/sleep
type SleepAnalysisRequest struct {
	Subject string           `json:"subject"`
	Range   RangeDTO         `json:"range"`
	Records []SleepRecordDTO `json:"records"`
}

// RoutineAnalysisRequest тело POST /v1/analysis/routine
type RoutineAnalysisRequest struct {
	Subject    string              `json:"subject"`
	Range      RangeDTO            `json:"range"`
	Activities []ActivityRecordDTO `json:"activities"`
}

// PredictionRequest тело POST /v1/predictions/sleep
type PredictionRequest struct {
	Subject    string              `json:"subject"`
	Now        time.Time           `json:"now"`
	Sleep      []SleepRecordDTO    `json:"sleep"`
	Feeding    []FeedingRecordDTO  `json:"feeding"`
	Activities []ActivityRecordDTO `json:"activities"`
}

// Anonymizer заменяет идентификаторы солеными SHA-256 хэшами и отбрасывает заметки
type Anonymizer struct {
	salt []byte
}

// NewAnonymizer создает анонимайзер с солью
func NewAnonymizer(salt string) *Anonymizer {
	return &Anonymizer{salt: []byte(salt)}
}

// Hash возвращает hex хэш идентификатора
func (a *Anonymizer) Hash(id string) string {
	if id == "" {
		return ""
	}
	h := sha256.New()
	h.Write(a.salt)
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

// Range переводит интервал в UTC
func (a *Anonymizer) Range(rng models.DateRange) RangeDTO {
	return RangeDTO{Start: rng.Start.UTC(), End: rng.End.UTC()}
}

// Sleep обезличивает эпизоды сна
func (a *Anonymizer) Sleep(records []models.SleepRecord) []SleepRecordDTO {
	out := make([]SleepRecordDTO, len(records))
	for i, r := range records {
		dto := SleepRecordDTO{
			ID:    a.Hash(r.ID),
			Start: r.StartTime.UTC(),
			End:   r.EndTime.UTC(),
		}
		for _, in := range r.Interruptions {
			dto.Interruptions = append(dto.Interruptions, IntervalDTO{Start: in.StartTime.UTC(), End: in.EndTime.UTC()})
		}
		if env := r.Environment; env != nil {
			dto.Environment = &models.EnvironmentalFactors{
				Light:       copyFloat(env.Light),
				Noise:       copyFloat(env.Noise),
				Temperature: copyFloat(env.Temperature),
				Humidity:    copyFloat(env.Humidity),
			}
		}
		out[i] = dto
	}
	return out
}

// Feedings обезличивает кормления
func (a *Anonymizer) Feedings(records []models.FeedingRecord) []FeedingRecordDTO {
	out := make([]FeedingRecordDTO, len(records))
	for i, r := range records {
		out[i] = FeedingRecordDTO{
			ID:       a.Hash(r.ID),
			Kind:     r.Kind,
			Start:    r.StartTime.UTC(),
			End:      r.EndTime.UTC(),
			AmountML: r.AmountML,
		}
	}
	return out
}

// Activities обезличивает активности
func (a *Anonymizer) Activities(records []models.ActivityRecord) []ActivityRecordDTO {
	out := make([]ActivityRecordDTO, len(records))
	for i, r := range records {
		out[i] = ActivityRecordDTO{
			ID:    a.Hash(r.ID),
			Type:  string(r.Type),
			Start: r.StartTime.UTC(),
			End:   r.EndTime.UTC(),
		}
	}
	return out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
