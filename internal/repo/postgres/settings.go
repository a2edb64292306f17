package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sjkd23/console-sub003/internal/domain"
)

const (
	selectGuildSettingsQuery = `SELECT guild_id, organizer_role_id, raid_channel_id, updated_at
		FROM guild_settings
		WHERE guild_id = $1`

	upsertGuildSettingsQuery = `INSERT INTO guild_settings (guild_id, organizer_role_id, raid_channel_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id) DO UPDATE SET
			organizer_role_id = EXCLUDED.organizer_role_id,
			raid_channel_id = EXCLUDED.raid_channel_id,
			updated_at = EXCLUDED.updated_at
		RETURNING guild_id, organizer_role_id, raid_channel_id, updated_at`
)

type GuildSettingsStore struct {
	db DB
}

func NewGuildSettingsStore(db DB) *GuildSettingsStore {
	if db == nil {
		return nil
	}
	return &GuildSettingsStore{db: db}
}

func (s *GuildSettingsStore) GetGuildSettings(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	if s == nil || s.db == nil {
		return domain.GuildSettings{}, fmt.Errorf("guild settings store not initialized")
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return domain.GuildSettings{}, fmt.Errorf("guild id is required")
	}
	settings, err := scanGuildSettings(s.db.QueryRowContext(ctx, selectGuildSettingsQuery, guildID))
	if err != nil {
		return domain.GuildSettings{}, handleNotFound(err)
	}
	return settings, nil
}

func (s *GuildSettingsStore) UpsertGuildSettings(ctx context.Context, settings domain.GuildSettings) (domain.GuildSettings, error) {
	if s == nil || s.db == nil {
		return domain.GuildSettings{}, fmt.Errorf("guild settings store not initialized")
	}
	guildID := strings.TrimSpace(settings.GuildID)
	if guildID == "" {
		return domain.GuildSettings{}, fmt.Errorf("guild id is required")
	}
	saved, err := scanGuildSettings(s.db.QueryRowContext(
		ctx,
		upsertGuildSettingsQuery,
		guildID,
		nullIfEmpty(settings.OrganizerRoleID),
		nullIfEmpty(settings.RaidChannelID),
		normalizeTime(settings.UpdatedAt),
	))
	if err != nil {
		return domain.GuildSettings{}, fmt.Errorf("upsert guild settings: %w", err)
	}
	return saved, nil
}

func scanGuildSettings(row scanner) (domain.GuildSettings, error) {
	var settings domain.GuildSettings
	var organizerRoleID, raidChannelID sql.NullString
	if err := row.Scan(&settings.GuildID, &organizerRoleID, &raidChannelID, &settings.UpdatedAt); err != nil {
		return domain.GuildSettings{}, err
	}
	settings.OrganizerRoleID = organizerRoleID.String
	settings.RaidChannelID = raidChannelID.String
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}
