// Package firestore persists player devices in Cloud Firestore as players/{playerID}.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

const (
	playersCollection = "players"
	// maxInQuery bounds the "in" filter on document ids.
	maxInQuery = 30
)

type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

func (s *DeviceStore) Save(ctx context.Context, device *dispatch.Device) error {
	if device.PlayerID == "" {
		return errors.New("device has no player id")
	}
	if _, err := s.players().Doc(device.PlayerID).Set(ctx, device); err != nil {
		return fmt.Errorf("failed to save player %s: %w", device.PlayerID, err)
	}
	return nil
}

func (s *DeviceStore) Get(ctx context.Context, playerID string) (*dispatch.Device, error) {
	snap, err := s.players().Doc(playerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dispatch.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to load player %s: %w", playerID, err)
	}
	var device dispatch.Device
	if err := snap.DataTo(&device); err != nil {
		return nil, fmt.Errorf("failed to decode player %s: %w", playerID, err)
	}
	return &device, nil
}

// GetMany queries by document id in chunks. Records that fail to decode are
// skipped, as a corrupt player should not block delivery to the rest.
func (s *DeviceStore) GetMany(ctx context.Context, playerIDs []string) (map[string]*dispatch.Device, error) {
	found := make(map[string]*dispatch.Device, len(playerIDs))
	for start := 0; start < len(playerIDs); start += maxInQuery {
		end := min(start+maxInQuery, len(playerIDs))
		refs := make([]*firestore.DocumentRef, 0, end-start)
		for _, id := range playerIDs[start:end] {
			refs = append(refs, s.players().Doc(id))
		}

		iter := s.players().Where(firestore.DocumentID, "in", refs).Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("firestore iteration failed: %w", err)
			}
			var device dispatch.Device
			if err := doc.DataTo(&device); err != nil {
				continue
			}
			found[doc.Ref.ID] = &device
		}
		iter.Stop()
	}
	return found, nil
}

func (s *DeviceStore) Delete(ctx context.Context, playerID string) error {
	if _, err := s.players().Doc(playerID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete player %s: %w", playerID, err)
	}
	return nil
}

func (s *DeviceStore) players() *firestore.CollectionRef {
	return s.client.Collection(playersCollection)
}
