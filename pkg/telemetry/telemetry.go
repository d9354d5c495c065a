// Package telemetry реализует внешнее хранилище телеметрии: иерархическую
// таблицу строковых путей поверх MQTT. Каждый путь публикуется как
// retained-топик под общим префиксом, так что наблюдатель всегда видит
// последний снимок состояния.
package telemetry

import (
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultBroker   = "tcp://172.22.11.2:1883"
	DefaultClientID = "can-diag"
	DefaultPrefix   = "bringup/diag"

	disconnectQuiesceMs = 250
)

// Config содержит настройки подключения к брокеру телеметрии.
type Config struct {
	Broker   string
	ClientID string
	Prefix   string
}

// Client публикует значения таблицы в MQTT. Подключение разрешается один
// раз при старте (Dial); дальше состояние связи — это просто состояние,
// которое читают через Connected, а не повод для повторных попыток на
// каждом тике: переподключением занимается сам клиент MQTT.
type Client struct {
	config Config
	client mqtt.Client
}

// Dial создаёт клиента и запускает подключение. Недоступность брокера
// при старте не считается ошибкой: клиент продолжит попытки в фоне, а
// Connected будет возвращать false. Ошибкой является только заведомо
// непригодная конфигурация.
func Dial(config Config) (*Client, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("не задан адрес брокера телеметрии")
	}
	if config.ClientID == "" {
		config.ClientID = fmt.Sprintf("%s-%d", DefaultClientID, time.Now().UnixNano())
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)

	c := &Client{config: config, client: mqtt.NewClient(opts)}
	if token := c.client.Connect(); token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// SetString записывает строковое значение по пути таблицы.
func (c *Client) SetString(path, value string) error {
	return c.publish(path, []byte(value))
}

// SetDouble записывает числовое значение по пути таблицы.
func (c *Client) SetDouble(path string, value float64) error {
	return c.publish(path, []byte(strconv.FormatFloat(value, 'f', -1, 64)))
}

// SetBoolean записывает логическое значение по пути таблицы.
func (c *Client) SetBoolean(path string, value bool) error {
	return c.publish(path, []byte(strconv.FormatBool(value)))
}

func (c *Client) publish(path string, payload []byte) error {
	topic := c.config.Prefix + "/" + path
	token := c.client.Publish(topic, 0, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ошибка публикации %s: %w", topic, token.Error())
	}
	return nil
}

// Connected сообщает состояние связи с брокером. Второе значение —
// признак определённости; клиент MQTT своё состояние знает всегда,
// но потребители обязаны переживать и неопределённый ответ.
func (c *Client) Connected() (connected, known bool) {
	return c.client.IsConnectionOpen(), true
}

// ConnectionInfo — строка о подключении для стартового отчёта.
func (c *Client) ConnectionInfo() string {
	connected, _ := c.Connected()
	if connected {
		return fmt.Sprintf("broker: %s", c.config.Broker)
	}
	return fmt.Sprintf("broker: %s (нет соединения)", c.config.Broker)
}

// Close отключается от брокера. Повторный вызов безопасен.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesceMs)
	}
}
