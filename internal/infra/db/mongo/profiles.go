package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "marketchat/internal/domain/chat"
)

const profilesCollection = "profiles"

// ProfileDirectory reads participant display data from the profiles collection.
type ProfileDirectory struct {
	col *mongo.Collection
}

func NewProfileDirectory(db *mongo.Database) *ProfileDirectory {
	return &ProfileDirectory{col: db.Collection(profilesCollection)}
}

var _ domainchat.ProfileDirectory = (*ProfileDirectory)(nil)

func (d *ProfileDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]domainchat.Profile, error) {
	ids := uniqueIDs(userIDs)
	out := make(map[string]domainchat.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := d.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	var docs []profileDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	for _, doc := range docs {
		out[doc.ID] = doc.toProfile()
	}
	return out, nil
}

// Upsert stores or replaces a profile.
func (d *ProfileDirectory) Upsert(ctx context.Context, p domainchat.Profile) error {
	doc := fromProfile(p)
	if doc.ID == "" {
		return domainchat.ErrInvalidParticipant
	}
	_, err := d.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type profileDocument struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name,omitempty"`
	AvatarKey string `bson:"avatar_key,omitempty"`
	AvatarURL string `bson:"avatar_url,omitempty"`
}

// toProfile prefers an object key over a stored URL so the s3 presigner can sign it.
func (d profileDocument) toProfile() domainchat.Profile {
	avatar := d.AvatarURL
	if d.AvatarKey != "" {
		avatar = d.AvatarKey
	}
	return domainchat.Profile{UserID: d.ID, Name: d.Name, AvatarURL: avatar}
}

func fromProfile(p domainchat.Profile) profileDocument {
	doc := profileDocument{ID: strings.TrimSpace(p.UserID), Name: strings.TrimSpace(p.Name)}
	avatar := strings.TrimSpace(p.AvatarURL)
	if strings.Contains(avatar, "://") {
		doc.AvatarURL = avatar
	} else {
		doc.AvatarKey = avatar
	}
	return doc
}

func uniqueIDs(userIDs []string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
