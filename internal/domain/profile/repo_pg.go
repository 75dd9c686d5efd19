package profile

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const profileCols = `id, user_id, date_of_birth, sex, height_cm, weight_kg, blood_type,
	conditions, allergies, emergency_contact_name, emergency_contact_phone, timezone,
	quiet_hours_start, quiet_hours_end, enabled_channels, email, phone, push_token,
	created_at, updated_at`

func scanProfile(row pgx.Row) (*UserHealthProfile, error) {
	var p UserHealthProfile
	err := row.Scan(&p.ID, &p.UserID, &p.DateOfBirth, &p.Sex, &p.HeightCM, &p.WeightKG, &p.BloodType,
		&p.Conditions, &p.Allergies, &p.EmergencyContactName, &p.EmergencyContactPhone, &p.Timezone,
		&p.QuietHoursStart, &p.QuietHoursEnd, &p.EnabledChannels, &p.Email, &p.Phone, &p.PushToken,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *UserHealthProfile) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO user_health_profile (id, user_id, date_of_birth, sex, height_cm, weight_kg, blood_type,
			conditions, allergies, emergency_contact_name, emergency_contact_phone, timezone,
			quiet_hours_start, quiet_hours_end, enabled_channels, email, phone, push_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.DateOfBirth, p.Sex, p.HeightCM, p.WeightKG, p.BloodType,
		p.Conditions, p.Allergies, p.EmergencyContactName, p.EmergencyContactPhone, p.Timezone,
		p.QuietHoursStart, p.QuietHoursEnd, p.EnabledChannels, p.Email, p.Phone, p.PushToken,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return db.MapErr(err, "profile", p.UserID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*UserHealthProfile, error) {
	p, err := scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profileCols+` FROM user_health_profile WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "profile", id)
	}
	return p, nil
}

func (r *repoPG) GetByUserID(ctx context.Context, userID string) (*UserHealthProfile, error) {
	p, err := scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profileCols+` FROM user_health_profile WHERE user_id = $1`, userID))
	if err != nil {
		return nil, db.MapErr(err, "profile", userID)
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *UserHealthProfile) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE user_health_profile SET date_of_birth=$2, sex=$3, height_cm=$4, weight_kg=$5, blood_type=$6,
			conditions=$7, allergies=$8, emergency_contact_name=$9, emergency_contact_phone=$10, timezone=$11,
			quiet_hours_start=$12, quiet_hours_end=$13, enabled_channels=$14, email=$15, phone=$16,
			push_token=$17, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.DateOfBirth, p.Sex, p.HeightCM, p.WeightKG, p.BloodType,
		p.Conditions, p.Allergies, p.EmergencyContactName, p.EmergencyContactPhone, p.Timezone,
		p.QuietHoursStart, p.QuietHoursEnd, p.EnabledChannels, p.Email, p.Phone, p.PushToken,
	).Scan(&p.UpdatedAt)
	return db.MapErr(err, "profile", p.ID)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM user_health_profile WHERE id = $1`, id)
	if err != nil {
		return db.MapErr(err, "profile", id)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "profile", id)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*UserHealthProfile, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_health_profile`).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "profile", "")
	}
	rows, err := conn.Query(ctx, `SELECT `+profileCols+` FROM user_health_profile
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "profile", "")
	}
	defer rows.Close()
	var items []*UserHealthProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "profile", "")
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
