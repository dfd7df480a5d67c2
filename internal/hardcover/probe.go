package hardcover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const meQuery = `query { me { id username } }`

type meUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// User は疎通確認で得られた認証ユーザー。
type User struct {
	ID       int64
	Username string
}

// Probe はAPIキーの有効性と疎通を確認し、認証ユーザーを返す。
// meはオブジェクトと配列のどちらで返っても受け付ける。ユーザーが返されない場合のIDは0。
func (c *Client) Probe(ctx context.Context) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	data, err := c.execute(ctx, "probe", meQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("Hardcover APIへの疎通確認に失敗しました: %w", err)
	}

	var envelope struct {
		Me json.RawMessage `json:"me"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: meのパースに失敗しました: %v", ErrResponse, err)
	}

	var u meUser
	raw := bytes.TrimSpace(envelope.Me)
	switch {
	case len(raw) > 0 && raw[0] == '[':
		var users []meUser
		if err := json.Unmarshal(raw, &users); err != nil {
			return nil, fmt.Errorf("%w: meのパースに失敗しました: %v", ErrResponse, err)
		}
		if len(users) > 0 {
			u = users[0]
		}
	case len(raw) > 0 && raw[0] == '{':
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: meのパースに失敗しました: %v", ErrResponse, err)
		}
	}

	// 認証は通ったがユーザーを特定できない場合はID 0で返し、設定値での補完を呼び出し側に任せる
	if u.ID <= 0 {
		c.logger.Warn("Hardcover APIから認証ユーザーのIDを取得できませんでした")
		return &User{Username: u.Username}, nil
	}

	c.logger.Info("Hardcover APIに接続しました",
		slog.Int64("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return &User{ID: u.ID, Username: u.Username}, nil
}
