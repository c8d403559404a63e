package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/pelusa-v/pelusa-chat/internal/store"
	"gorm.io/gorm"
)

func (s *Store) GetRoomByName(ctx context.Context, name string) (*store.Room, error) {
	return s.findRoom(ctx, s.db.WithContext(ctx).Where("name = ?", name))
}

func (s *Store) FindRoom(ctx context.Context, name string, typ store.RoomType) (*store.Room, error) {
	return s.findRoom(ctx, s.db.WithContext(ctx).Where("name = ? AND type = ?", name, string(typ)))
}

// FindPrivateRoom returns the private room whose participants are exactly a and b.
func (s *Store) FindPrivateRoom(ctx context.Context, a, b uint) (*store.Room, error) {
	db := s.db.WithContext(ctx)
	memberOf := func(uid uint) *gorm.DB {
		return db.Model(&participantModel{}).Select("room_id").Where("user_id = ?", uid)
	}
	q := db.Where("type = ?", string(store.RoomPrivate)).
		Where("id IN (?)", memberOf(a)).
		Where("id IN (?)", memberOf(b)).
		Where("(SELECT COUNT(*) FROM room_participants WHERE room_participants.room_id = rooms.id) = 2")
	return s.findRoom(ctx, q)
}

func (s *Store) findRoom(ctx context.Context, q *gorm.DB) (*store.Room, error) {
	var row roomModel
	if err := q.Order("id").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return s.loadRoom(s.db.WithContext(ctx), row)
}

func (s *Store) loadRoom(db *gorm.DB, row roomModel) (*store.Room, error) {
	var users []userModel
	err := db.Joins("JOIN room_participants ON room_participants.user_id = users.id").
		Where("room_participants.room_id = ?", row.ID).
		Order("users.id").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return &store.Room{
		ID:           row.ID,
		Name:         row.Name,
		Type:         store.RoomType(row.Type),
		Participants: toUsers(users),
		CreatedAt:    row.CreatedAt,
	}, nil
}

// CreateRoom inserts the room and its participants in one transaction.
// A name collision yields store.ErrRoomExists, including a lost insert race.
func (s *Store) CreateRoom(ctx context.Context, name string, typ store.RoomType, participantIDs []uint) (*store.Room, error) {
	row := roomModel{Name: name, Type: string(typ), CreatedAt: s.now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&roomModel{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return store.ErrRoomExists
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		seen := make(map[uint]bool, len(participantIDs))
		parts := make([]participantModel, 0, len(participantIDs))
		for _, id := range participantIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			parts = append(parts, participantModel{RoomID: row.ID, UserID: id})
		}
		if len(parts) == 0 {
			return nil
		}
		return tx.Create(&parts).Error
	})
	if errors.Is(err, store.ErrRoomExists) {
		return nil, err
	}
	if err != nil {
		if _, lookupErr := s.GetRoomByName(ctx, name); lookupErr == nil {
			return nil, store.ErrRoomExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return s.loadRoom(s.db.WithContext(ctx), row)
}

// DeleteRoom removes the room along with its participants, messages and receipts.
func (s *Store) DeleteRoom(ctx context.Context, roomID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roomMessages := tx.Model(&messageModel{}).Select("id").Where("room_id = ?", roomID)
		if err := tx.Where("message_id IN (?)", roomMessages).Delete(&receiptModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&messageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&participantModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&roomModel{}, roomID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrRoomNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return err
}
