package main

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
)

// CallRecord is one dispatched call persisted to the history store.
type CallRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RequestID  string `gorm:"column:request_id;type:varchar(255);not null"`
	Method     string `gorm:"column:method;type:varchar(255);not null"`
	Params     []byte `gorm:"column:params;type:text"`
	Response   []byte `gorm:"column:response;type:text"`
	Success    bool   `gorm:"column:success;not null"`
	DurationMS int64  `gorm:"column:duration_ms;not null"`
	Timestamp  int64  `gorm:"column:timestamp;not null"`
}

// TableName specifies the table name for the CallRecord model.
func (CallRecord) TableName() string {
	return "call_history"
}

// HistoryStore persists dispatched calls and their outcomes. It is
// optional; when no database is configured the node runs without one.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore creates the store and migrates its schema.
func NewHistoryStore(db *gorm.DB) (*HistoryStore, error) {
	if err := db.AutoMigrate(&CallRecord{}); err != nil {
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

// Record stores one finished call.
func (s *HistoryStore) Record(req *jsonrpc.Request, res *jsonrpc.Response, took time.Duration) error {
	params, err := json.Marshal(req.Params)
	if err != nil {
		return err
	}
	response, err := json.Marshal(res)
	if err != nil {
		return err
	}

	record := &CallRecord{
		RequestID:  req.ID.String(),
		Method:     req.Method,
		Params:     params,
		Response:   response,
		Success:    res.Error == nil,
		DurationMS: took.Milliseconds(),
		Timestamp:  time.Now().UnixMilli(),
	}
	return s.db.Create(record).Error
}

// SortType selects the ordering of history queries.
type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// ListOptions carries pagination and ordering for history queries.
type ListOptions struct {
	Offset uint32
	Limit  uint32
	Sort   *SortType
}

// Recent retrieves stored calls, newest first by default. An empty
// method matches all methods.
func (s *HistoryStore) Recent(method string, options *ListOptions) ([]CallRecord, error) {
	query := applyListOptions(s.db, "timestamp", SortTypeDescending, options)
	if method != "" {
		query = query.Where("method = ?", method)
	}

	var records []CallRecord
	err := query.Find(&records).Error
	return records, err
}

func applyListOptions(db *gorm.DB, sortBy string, defaultSort SortType, options *ListOptions) *gorm.DB {
	sort := defaultSort
	offset := 0
	limit := defaultHistoryLimit
	if options != nil {
		if options.Sort != nil {
			sort = *options.Sort
		}
		offset = int(options.Offset)
		if options.Limit > 0 {
			limit = int(options.Limit)
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	return db.Order(sortBy + " " + strings.ToUpper(string(sort))).Offset(offset).Limit(limit)
}
