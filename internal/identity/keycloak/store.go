// store.go — зашифрованное хранилище учётных данных CLI (AES-256-GCM).
package keycloak

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

// ErrCorruptStore — файл не расшифровывается текущим ключом.
var ErrCorruptStore = errors.New("файл учётных данных повреждён или зашифрован другим ключом")

// Credentials — данные, переживающие перезапуск CLI.
type Credentials struct {
	RefreshToken string    `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	IDToken      string    `json:"id_token"`
	Expiry       time.Time `json:"expiry"`
}

// Store — файл с зашифрованными Credentials.
type Store struct {
	path string
	gcm  cipher.AEAD
}

// DefaultStorePath — ~/.diu-transport/credentials.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("домашний каталог: %w", err)
	}
	return filepath.Join(home, ".diu-transport", "credentials"), nil
}

// NewStore создаёт хранилище. key — base64 от 32 байт либо произвольная
// парольная фраза (ключ = SHA-256 фразы).
func NewStore(path, key string) (*Store, error) {
	if key == "" {
		return nil, errors.New("ключ хранилища не задан")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(keyBytes) != 32 {
		sum := sha256.Sum256([]byte(key))
		keyBytes = sum[:]
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return &Store{path: path, gcm: gcm}, nil
}

// Path возвращает путь к файлу.
func (s *Store) Path() string {
	return s.path
}

// Save шифрует и атомарно записывает учётные данные (mode 0600).
func (s *Store) Save(c Credentials) error {
	plaintext, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("сериализация учётных данных: %w", err)
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, plaintext, nil)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("создание каталога: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("создание временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("запись: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("закрытие: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("замена файла: %w", err)
	}
	return nil
}

// Load читает учётные данные. Файла нет — nil, nil.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение %s: %w", s.path, err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrCorruptStore
	}
	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrCorruptStore
	}

	var c Credentials
	if err := json.Unmarshal(plaintext, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return &c, nil
}

// Clear удаляет файл. Отсутствие файла ошибкой не считается.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("удаление %s: %w", s.path, err)
	}
	return nil
}
