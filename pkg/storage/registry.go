// Package storage хранит в bbolt реестр уже обнаруженных устройств,
// чтобы сообщение "на шине появилось неописанное устройство" печаталось
// один раз, в том числе между перезапусками агента.
package storage

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/serebryakov7/can-diag/internal/canid"
)

const bucketKey = "known_devices"

// OpenDB открывает (или создаёт) bbolt-базу и гарантирует наличие bucket'а.
func OpenDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketKey))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// IsNew проверяет, встречался ли ранее ключ устройства.
// Возвращает true и запоминает ключ, если он новый.
func IsNew(db *bolt.DB, key canid.DeviceKey) (bool, error) {
	k := []byte(key.String())
	var isNew bool

	err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketKey))
		if b.Get(k) == nil {
			// Ключа нет — устройство видим впервые
			isNew = true
			return b.Put(k, []byte{1})
		}
		isNew = false
		return nil
	})
	return isNew, err
}

// Forget удаляет ключ устройства из реестра.
func Forget(db *bolt.DB, key canid.DeviceKey) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketKey))
		return b.Delete([]byte(key.String()))
	})
}

// ClearAll сбрасывает весь реестр обнаруженных устройств.
func ClearAll(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketKey)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketKey))
		return err
	})
}
