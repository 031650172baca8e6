package submissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StudentItem addresses one learner's work on one externally graded item.
type StudentItem struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	ItemID    string `json:"item_id"`
	ItemType  string `json:"item_type"`
}

// Score is the external grader's view of one item.
type Score struct {
	PointsEarned   float64 `json:"points_earned"`
	PointsPossible float64 `json:"points_possible"`
}

// Store is the submissions service contract. GetScore returns nil when the
// store has no score for the item.
type Store interface {
	GetScore(ctx context.Context, item StudentItem) (*Score, error)
	SetScore(ctx context.Context, submissionUUID string, earned, possible float64) error
}

// HTTPStore talks to the submissions service over its JSON API.
type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPStore) GetScore(ctx context.Context, item StudentItem) (*Score, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/score/get", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("submissions store: unexpected status %d", resp.StatusCode)
	}

	var score Score
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return nil, err
	}
	return &score, nil
}

func (s *HTTPStore) SetScore(ctx context.Context, submissionUUID string, earned, possible float64) error {
	payload := map[string]interface{}{
		"submission_uuid": submissionUUID,
		"points_earned":   earned,
		"points_possible": possible,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/score/set", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submissions store: unexpected status %d", resp.StatusCode)
	}
	return nil
}
