package service

import (
	"crypto/rand"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// EnrollmentService runs the roster-driven bulk enrollment engine: parse a
// staff-uploaded CSV, create accounts where permitted, and enroll each row
// under the course's resolved mode. Row failures never abort the run.
type EnrollmentService struct {
	Users       *repository.UserRepository
	Enrollments *repository.EnrollmentRepository
	Config      config.EnrollmentConfig

	MaxReportedErrors int
}

func NewEnrollmentService(users *repository.UserRepository, enrollments *repository.EnrollmentRepository, cfg config.EnrollmentConfig, maxReportedErrors int) *EnrollmentService {
	if maxReportedErrors <= 0 {
		maxReportedErrors = 100
	}
	return &EnrollmentService{
		Users:             users,
		Enrollments:       enrollments,
		Config:            cfg,
		MaxReportedErrors: maxReportedErrors,
	}
}

// RosterRow is one parsed line of the upload.
type RosterRow struct {
	Line     int
	Email    string
	Username string
	FullName string
	Country  string
}

// RowOutcome reports what happened to one roster line.
type RowOutcome struct {
	Line       int    `json:"line"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Created    bool   `json:"created"`
	Enrolled   bool   `json:"enrolled"`
	Allowed    bool   `json:"allowed"`
	Transition string `json:"transition,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RosterResult summarizes a full bulk enrollment run.
type RosterResult struct {
	Mode      string       `json:"mode"`
	Total     int          `json:"total"`
	Created   int          `json:"created"`
	Enrolled  int          `json:"enrolled"`
	Allowed   int          `json:"allowed"`
	Failed    int          `json:"failed"`
	Outcomes  []RowOutcome `json:"outcomes"`
	Truncated bool         `json:"truncated"`
}

// ParseRoster reads the uploaded CSV. The file name must end in .csv; each
// non-blank line must carry exactly the four columns
// email,username,full_name,country. CR, LF and CRLF line endings all work.
func (s *EnrollmentService) ParseRoster(filename string, r io.Reader) ([]RosterRow, []RowOutcome, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return nil, nil, fmt.Errorf("%w: roster upload must be a .csv file", util.ErrInvalidInput)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	// Lone-CR files predate the CSV reader's line handling.
	normalized := strings.ReplaceAll(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\r", "\n")

	reader := csv.NewReader(strings.NewReader(normalized))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []RosterRow
	var rowErrors []RowOutcome
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			rowErrors = append(rowErrors, RowOutcome{Line: line, Error: fmt.Sprintf("unparseable line: %v", err)})
			continue
		}
		// Physical line of the upload, so staff can find the row. Blank
		// lines never reach here; the reader skips them.
		line, _ := reader.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != 4 {
			rowErrors = append(rowErrors, RowOutcome{Line: line, Error: fmt.Sprintf("expected 4 columns (email,username,full_name,country), got %d", len(record))})
			continue
		}
		rows = append(rows, RosterRow{
			Line:     line,
			Email:    strings.TrimSpace(record[0]),
			Username: strings.TrimSpace(record[1]),
			FullName: strings.TrimSpace(record[2]),
			Country:  strings.TrimSpace(record[3]),
		})
	}
	return rows, rowErrors, nil
}

// ResolveMode picks the enrollment mode for a course: audit when an audit
// mode is currently offered, the platform's paid default when the course is
// priced without an audit track, honor otherwise.
func (s *EnrollmentService) ResolveMode(courseID string, now time.Time) (string, error) {
	modes, err := s.Enrollments.Modes(courseID)
	if err != nil {
		return "", err
	}
	priced := false
	for i := range modes {
		if !modes[i].Active(now) {
			continue
		}
		if modes[i].Mode == model.ModeAudit {
			return model.ModeAudit, nil
		}
		if modes[i].MinPrice > 0 {
			priced = true
		}
	}
	if priced && s.Config.DefaultPaidMode != "" {
		return s.Config.DefaultPaidMode, nil
	}
	return model.ModeHonor, nil
}

// EnrollRoster processes each row independently: validate the email, find or
// create the account, enroll (or record an allowance when account creation is
// off). Reported outcomes are capped; counters are not.
func (s *EnrollmentService) EnrollRoster(actorID uint, courseID string, rows []RosterRow, parseErrors []RowOutcome) (*RosterResult, error) {
	mode, err := s.ResolveMode(courseID, time.Now())
	if err != nil {
		return nil, err
	}

	result := &RosterResult{Mode: mode, Total: len(rows) + len(parseErrors)}
	for _, out := range parseErrors {
		result.Failed++
		s.report(result, out)
	}

	seenPasswords := map[string]bool{}
	for _, row := range rows {
		out := s.enrollRow(actorID, courseID, mode, row, seenPasswords)
		if out.Error != "" {
			result.Failed++
		}
		if out.Created {
			result.Created++
		}
		if out.Enrolled {
			result.Enrolled++
		}
		if out.Allowed {
			result.Allowed++
		}
		s.report(result, out)
	}
	return result, nil
}

func (s *EnrollmentService) report(result *RosterResult, out RowOutcome) {
	if len(result.Outcomes) >= s.MaxReportedErrors {
		result.Truncated = true
		return
	}
	result.Outcomes = append(result.Outcomes, out)
}

func (s *EnrollmentService) enrollRow(actorID uint, courseID, mode string, row RosterRow, seenPasswords map[string]bool) RowOutcome {
	out := RowOutcome{Line: row.Line, Email: row.Email, Username: row.Username}

	// An unparseable address gets a row error and no audit trail at all.
	if _, err := mail.ParseAddress(row.Email); err != nil {
		out.Error = fmt.Sprintf("invalid email %q", row.Email)
		return out
	}

	user, err := s.Users.FindByEmail(row.Email)
	switch {
	case err == nil:
		if user.Username != row.Username {
			out.Warning = fmt.Sprintf("email belongs to account %q, ignoring username %q", user.Username, row.Username)
		}
	case errors.Is(err, util.ErrUserNotFound):
		user, out.Error = s.maybeCreateAccount(row, seenPasswords, &out)
		if out.Error != "" {
			return out
		}
	default:
		out.Error = err.Error()
		return out
	}

	if user == nil {
		// No account and creation disabled: record the allowance so the
		// learner lands enrolled when they register.
		if err := s.Enrollments.Allow(actorID, row.Email, courseID, "bulk enrollment"); err != nil {
			out.Error = err.Error()
			return out
		}
		out.Allowed = true
		return out
	}

	transition, err := s.Enrollments.Enroll(actorID, user.ID, row.Email, courseID, mode, "bulk enrollment")
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Transition = transition
	out.Enrolled = transition != model.TransitionUnenrolledToUnenrolled
	return out
}

// maybeCreateAccount creates the row's account when auto-creation is on. A
// username already taken by a different email is a row error.
func (s *EnrollmentService) maybeCreateAccount(row RosterRow, seenPasswords map[string]bool, out *RowOutcome) (*model.User, string) {
	existing, err := s.Users.FindByUsername(row.Username)
	if err == nil && existing != nil {
		return nil, fmt.Sprintf("username %q already belongs to %s", row.Username, existing.Email)
	}
	if err != nil && !errors.Is(err, util.ErrUserNotFound) {
		return nil, err.Error()
	}

	if !s.Config.AutoCreateAccounts {
		return nil, ""
	}

	password, err := generatePassword(12, seenPasswords)
	if err != nil {
		return nil, err.Error()
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err.Error()
	}
	user := &model.User{
		Username: row.Username,
		Name:     row.FullName,
		Email:    row.Email,
		Password: string(hashed),
		Country:  row.Country,
		Role:     model.Learner,
	}
	if err := s.Users.Create(user); err != nil {
		return nil, err.Error()
	}
	out.Created = true
	logger.Log.Info("created account for roster row",
		zap.String("username", row.Username), zap.String("email", row.Email))
	return user, ""
}

// passwordAlphabet omits vowels and look-alikes so a generated password can
// never spell a word or be misread over the phone.
const passwordAlphabet = "bcdfghjkmnpqrstvwxyzBCDFGHJKMNPQRSTVWXYZ023456789"

func generatePassword(length int, seen map[string]bool) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, length)
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
			if err != nil {
				return "", err
			}
			buf[i] = passwordAlphabet[n.Int64()]
		}
		candidate := string(buf)
		if !seen[candidate] {
			seen[candidate] = true
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a unique password")
}
