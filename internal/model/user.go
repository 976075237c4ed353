// Package model はドメインモデルを定義する。
package model

import "time"

// UserProfile はLINEユーザーの登録済み事業者情報を表す。
// セッションより長く保持され、次回以降の会話の初期値として使われる。
type UserProfile struct {
	LineUserID  string
	Email       string
	CompanyName string
	Address     string
	BankAccount string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Credential はGoogle OAuthトークンを表す。
// 永続化時は暗号化される。
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// SpreadsheetHandle はユーザー・書類種別ごとに再利用するスプレッドシートの参照。
type SpreadsheetHandle struct {
	LineUserID    string
	DocumentType  DocumentType
	SpreadsheetID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GeneratedDocument は生成済み書類の履歴。
type GeneratedDocument struct {
	ID            string
	LineUserID    string
	DocumentType  DocumentType
	SpreadsheetID string
	TabName       string
	EditURL       string
	PDFURL        string
	Total         int64
	CreatedAt     time.Time
}
