package sqlstore

import "time"

// receipt kinds stored in message_receipts
const (
	receiptDelivered = "delivered"
	receiptRead      = "read"
	receiptDeleted   = "deleted"
)

type userModel struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:150;uniqueIndex;not null"`
	Online    bool   `gorm:"not null;default:false"`
	LastSeen  *time.Time
	CreatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type roomModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:255;uniqueIndex;not null"`
	Type      string `gorm:"size:10;index;not null"`
	CreatedAt time.Time
}

func (roomModel) TableName() string { return "rooms" }

type participantModel struct {
	RoomID uint `gorm:"primaryKey"`
	UserID uint `gorm:"primaryKey;index"`
}

func (participantModel) TableName() string { return "room_participants" }

type messageModel struct {
	ID        string `gorm:"primaryKey;size:26"`
	RoomID    uint   `gorm:"index;not null"`
	SenderID  uint   `gorm:"index;not null"`
	Body      string `gorm:"type:text"`
	MediaURL  string `gorm:"size:500"`
	Status    string `gorm:"size:10;index;not null;default:sent"`
	CreatedAt time.Time `gorm:"index"`
}

func (messageModel) TableName() string { return "messages" }

// receiptModel 一行代表一个用户对一条消息的 delivered / read / deleted 标记
type receiptModel struct {
	MessageID string `gorm:"primaryKey;size:26"`
	UserID    uint   `gorm:"primaryKey"`
	Kind      string `gorm:"primaryKey;size:10"`
	CreatedAt time.Time
}

func (receiptModel) TableName() string { return "message_receipts" }

var allModels = []any{&userModel{}, &roomModel{}, &participantModel{}, &messageModel{}, &receiptModel{}}
