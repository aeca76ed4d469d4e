package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SessionData — токены сессии, хранящиеся на диске в зашифрованном виде.
type SessionData struct {
	AccessToken  string `json:"access_token"`  //nolint:gosec // структура токена OAuth2
	RefreshToken string `json:"refresh_token"` //nolint:gosec // структура токена OAuth2
	// ExpiresAt — истечение access token (Unix)
	ExpiresAt int64 `json:"expires_at"`
	// RefreshExpiresAt — истечение refresh token (Unix), 0 — без ограничения
	RefreshExpiresAt int64 `json:"refresh_expires_at,omitempty"`
}

// IsExpired — до истечения access token меньше 30 секунд.
func (s *SessionData) IsExpired() bool {
	return time.Now().Unix() >= s.ExpiresAt-30
}

// RefreshExpired — refresh token уже недействителен.
func (s *SessionData) RefreshExpired() bool {
	return s.RefreshExpiresAt != 0 && time.Now().Unix() >= s.RefreshExpiresAt
}

func sessionFromTokens(tr *TokenResponse) *SessionData {
	now := time.Now().Unix()
	sd := &SessionData{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    now + int64(tr.ExpiresIn),
	}
	if tr.RefreshExpiresIn > 0 {
		sd.RefreshExpiresAt = now + int64(tr.RefreshExpiresIn)
	}
	return sd
}

// SessionFile — файл сессии, зашифрованный AES-256-GCM.
type SessionFile struct {
	path string
	gcm  cipher.AEAD
}

// NewSessionFile открывает файл сессии.
// key — base64 32-байтового ключа или произвольная строка (хешируется SHA-256).
// Пустой key — ключ генерируется и хранится рядом в <path>.key с правами 0600.
func NewSessionFile(path, key string) (*SessionFile, error) {
	keyBytes, err := resolveKey(path, key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return &SessionFile{path: path, gcm: gcm}, nil
}

// Load читает сессию. Возвращает nil, nil, если файла нет.
func (f *SessionFile) Load() (*SessionData, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения файла сессии: %w", err)
	}
	return f.decrypt(string(raw))
}

// Save атомарно записывает сессию.
func (f *SessionFile) Save(data *SessionData) error {
	encrypted, err := f.encrypt(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("ошибка создания каталога сессии: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(encrypted), 0o600); err != nil {
		return fmt.Errorf("ошибка записи файла сессии: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("ошибка записи файла сессии: %w", err)
	}
	return nil
}

// Clear удаляет файл сессии.
func (f *SessionFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла сессии: %w", err)
	}
	return nil
}

func (f *SessionFile) encrypt(data *SessionData) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации сессии: %w", err)
	}

	nonce := make([]byte, f.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	ciphertext := f.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func (f *SessionFile) decrypt(encrypted string) (*SessionData, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := f.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := f.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования сессии: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сессии: %w", err)
	}
	return &data, nil
}

func resolveKey(path, key string) ([]byte, error) {
	if key != "" {
		if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == 32 {
			return b, nil
		}
		h := sha256.Sum256([]byte(key))
		return h[:], nil
	}

	keyPath := path + ".key"
	if raw, err := os.ReadFile(keyPath); err == nil {
		b, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("повреждён файл ключа %s", keyPath)
		}
		return b, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения файла ключа: %w", err)
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа сессии: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога ключа: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(base64.StdEncoding.EncodeToString(b)), 0o600); err != nil {
		return nil, fmt.Errorf("ошибка записи файла ключа: %w", err)
	}
	return b, nil
}
