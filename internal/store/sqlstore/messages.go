package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateMessage stores a new message with status sent.
func (s *Store) CreateMessage(ctx context.Context, roomID, senderID uint, body, mediaURL string) (*store.Message, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&roomModel{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	if count == 0 {
		return nil, store.ErrRoomNotFound
	}
	row := messageModel{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		MediaURL:  mediaURL,
		Status:    string(store.StatusSent),
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return s.GetMessage(ctx, row.ID)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	var row messageModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	msgs, err := s.hydrate(ctx, []messageModel{row})
	if err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// MarkDelivered records userID in the delivered set and advances sent to
// delivered. The sender's own copy and repeated calls change nothing.
func (s *Store) MarkDelivered(ctx context.Context, messageID string, userID uint) (*store.Message, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row messageModel
		if err := tx.First(&row, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrMessageNotFound
			}
			return err
		}
		if row.SenderID == userID {
			return nil
		}
		receipt := receiptModel{MessageID: messageID, UserID: userID, Kind: receiptDelivered, CreatedAt: s.now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error; err != nil {
			return err
		}
		if store.Status(row.Status).AtLeast(store.StatusDelivered) {
			return nil
		}
		return tx.Model(&messageModel{}).
			Where("id = ? AND status = ?", messageID, string(store.StatusSent)).
			Update("status", string(store.StatusDelivered)).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark delivered: %w", err)
	}
	return s.GetMessage(ctx, messageID)
}

// MarkRead marks every message in the room not sent by readerID as read and
// returns how many messages changed status.
func (s *Store) MarkRead(ctx context.Context, roomID, readerID uint) (int64, error) {
	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&messageModel{}).
			Where("room_id = ? AND sender_id <> ?", roomID, readerID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		now := s.now()
		receipts := make([]receiptModel, 0, len(ids))
		for _, id := range ids {
			receipts = append(receipts, receiptModel{MessageID: id, UserID: readerID, Kind: receiptRead, CreatedAt: now})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(receipts, 100).Error; err != nil {
			return err
		}
		res := tx.Model(&messageModel{}).
			Where("room_id = ? AND sender_id <> ? AND status IN ?", roomID, readerID,
				[]string{string(store.StatusSent), string(store.StatusDelivered)}).
			Update("status", string(store.StatusRead))
		changed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark read: %w", err)
	}
	return changed, nil
}

// DeleteMessageFor soft-deletes a message. DeleteForEveryone is reserved to
// the sender and hides the message from every participant of its room.
func (s *Store) DeleteMessageFor(ctx context.Context, messageID string, requesterID uint, scope store.DeleteScope) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row messageModel
		if err := tx.First(&row, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrMessageNotFound
			}
			return err
		}
		targets := []uint{requesterID}
		if scope == store.DeleteForEveryone {
			if row.SenderID != requesterID {
				return store.ErrNotSender
			}
			var ids []uint
			if err := tx.Model(&participantModel{}).Where("room_id = ?", row.RoomID).Pluck("user_id", &ids).Error; err != nil {
				return err
			}
			targets = append(targets, ids...)
		}
		now := s.now()
		seen := make(map[uint]bool, len(targets))
		receipts := make([]receiptModel, 0, len(targets))
		for _, uid := range targets {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			receipts = append(receipts, receiptModel{MessageID: messageID, UserID: uid, Kind: receiptDeleted, CreatedAt: now})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error
	})
	if err != nil && !errors.Is(err, store.ErrMessageNotFound) && !errors.Is(err, store.ErrNotSender) {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return err
}

// ListMessages returns the room's history in timestamp order, skipping
// messages viewerID deleted for themselves.
func (s *Store) ListMessages(ctx context.Context, roomID, viewerID uint) ([]store.Message, error) {
	db := s.db.WithContext(ctx)
	hidden := db.Model(&receiptModel{}).Select("message_id").
		Where("user_id = ? AND kind = ?", viewerID, receiptDeleted)
	var rows []messageModel
	if err := db.Where("room_id = ?", roomID).
		Where("id NOT IN (?)", hidden).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return s.hydrate(ctx, rows)
}

// hydrate attaches sender names, room names and receipt sets.
func (s *Store) hydrate(ctx context.Context, rows []messageModel) ([]store.Message, error) {
	if len(rows) == 0 {
		return []store.Message{}, nil
	}
	db := s.db.WithContext(ctx)

	ids := make([]string, 0, len(rows))
	senderIDs := make([]uint, 0, len(rows))
	roomIDs := make([]uint, 0, 1)
	for _, r := range rows {
		ids = append(ids, r.ID)
		senderIDs = append(senderIDs, r.SenderID)
		roomIDs = append(roomIDs, r.RoomID)
	}

	var users []userModel
	if err := db.Where("id IN ?", senderIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load senders: %w", err)
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}

	var rooms []roomModel
	if err := db.Where("id IN ?", roomIDs).Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	roomNames := make(map[uint]string, len(rooms))
	for _, r := range rooms {
		roomNames[r.ID] = r.Name
	}

	var receipts []receiptModel
	if err := db.Where("message_id IN ?", ids).Order("user_id").Find(&receipts).Error; err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}
	byMessage := make(map[string][]receiptModel, len(ids))
	for _, rc := range receipts {
		byMessage[rc.MessageID] = append(byMessage[rc.MessageID], rc)
	}

	out := make([]store.Message, 0, len(rows))
	for _, r := range rows {
		m := store.Message{
			ID:         r.ID,
			RoomID:     r.RoomID,
			RoomName:   roomNames[r.RoomID],
			SenderID:   r.SenderID,
			SenderName: names[r.SenderID],
			Body:       r.Body,
			MediaURL:   r.MediaURL,
			CreatedAt:  r.CreatedAt,
			Status:     store.Status(r.Status),
		}
		for _, rc := range byMessage[r.ID] {
			switch rc.Kind {
			case receiptDelivered:
				m.DeliveredBy = append(m.DeliveredBy, rc.UserID)
			case receiptRead:
				m.ReadBy = append(m.ReadBy, rc.UserID)
			case receiptDeleted:
				m.DeletedFor = append(m.DeletedFor, rc.UserID)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
