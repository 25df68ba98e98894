package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var seedInterestPool = []string{
	"gaming", "music", "travel", "movies", "cooking", "football",
	"hiking", "photography", "anime", "books", "coding", "guitar",
}

// SeedTestData resets the database and populates it with demo identities.
//
// Behavior:
//  1. Clears all matchmaking tables.
//  2. Creates 20 identities with hashed secrets and 2-4 random interests.
//  3. Bans two of them: one temporary (1h), one permanent.
//
// Compatible with both MySQL and SQLite (AUTO_INCREMENT reset skipped for SQLite).
func SeedTestData(db *gorm.DB) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	// --- Fresh start ---
	for _, table := range []string{"messages", "waiting_entries", "sessions", "bans", "identities"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE identities AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE waiting_entries AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name IN ('identities', 'waiting_entries', 'messages', 'bans')")
	}

	log.Println("Cleared existing data")

	// --- Seed identities ---
	var ids []uint64
	for i := 1; i <= 20; i++ {
		hash, err := bcrypt.GenerateFromPassword([]byte(fmt.Sprintf("secret-%d", i)), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash secret: %w", err)
		}

		tags := make([]string, 0, 4)
		for _, j := range r.Perm(len(seedInterestPool))[:2+r.Intn(3)] {
			tags = append(tags, seedInterestPool[j])
		}

		identity := Identity{
			Token:      uuid.NewString(),
			SecretHash: string(hash),
			Interests:  EncodeInterests(tags),
			Active:     true,
			LastSeenAt: time.Now().UTC().Add(-time.Duration(r.Intn(10)) * time.Minute),
		}
		if err := db.Create(&identity).Error; err != nil {
			return fmt.Errorf("failed to seed identity: %w", err)
		}
		ids = append(ids, identity.ID)
	}
	log.Println("Seeded 20 identities.")

	// --- Seed bans ---
	until := time.Now().UTC().Add(time.Hour)
	bans := []Ban{
		{IdentityID: ids[0], Reason: "spam", ExpiresAt: &until},
		{IdentityID: ids[1], Reason: "abuse"}, // permanent
	}
	if err := db.Create(&bans).Error; err != nil {
		return fmt.Errorf("failed to seed bans: %w", err)
	}
	log.Println("Seeded 2 bans.")

	return nil
}
