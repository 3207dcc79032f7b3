package store

import "time"

type User struct {
	ID                    string
	Email                 string
	Name                  string
	PasswordHash          string
	IsVerified            bool
	VerificationCode      string
	VerificationExpiresAt *time.Time
	ResetToken            string
	ResetExpiresAt        *time.Time
	LastLoginAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Plant struct {
	ID          string
	Name        string
	Location    string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reading is one timestamped sensor sample belonging to a plant.
type Reading struct {
	ID         string
	PlantID    string
	Battery    float64
	Level      float64
	Signal     float64
	RecordedAt time.Time
	// Joined fields for API responses
	PlantName     string
	PlantLocation string
}

// Grant links a user to a plant with a role. At most one active grant exists
// per (user, plant) pair, enforced by a unique constraint.
type Grant struct {
	ID        string
	UserID    string
	PlantID   string
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined fields for API responses
	UserName         string
	UserEmail        string
	PlantName        string
	PlantLocation    string
	PlantDescription string
	PlantActive      bool
}

// PlantWithLatest pairs a plant with its most recent reading, if any.
type PlantWithLatest struct {
	Plant
	Role   string
	Latest *Reading
}

// ReadingStats is the aggregate summary over a set of readings.
type ReadingStats struct {
	TotalRecords int
	FirstRecord  *time.Time
	LastRecord   *time.Time
	AvgBattery   float64
	MinBattery   float64
	MaxBattery   float64
	AvgLevel     float64
	MinLevel     float64
	MaxLevel     float64
	AvgSignal    float64
	MinSignal    float64
	MaxSignal    float64
}
