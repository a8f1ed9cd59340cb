package config

import (
	"os"
	"strconv"
	"strings"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// applyEnv lets secrets and endpoints stay out of the YAML file.
func applyEnv(c *Config) {
	c.Logging.Level = envStr("LOG_LEVEL", c.Logging.Level)
	c.HTTP.Addr = envStr("HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = envStr("GRPC_ADDR", c.GRPC.Addr)

	c.Influx.Enabled = envBool("INFLUX_ENABLED", c.Influx.Enabled)
	c.Influx.URL = envStr("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = envStr("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = envStr("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = envStr("INFLUX_BUCKET", c.Influx.Bucket)

	c.MQTT.Enabled = envBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Host = envStr("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = envStr("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = envStr("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = envStr("MQTT_CLIENT_ID", c.MQTT.ClientID)

	c.Blob.Azure.ConnectionString = envStr("AZURE_STORAGE_CONNECTION_STRING", c.Blob.Azure.ConnectionString)
	c.Blob.Azure.Container = envStr("AZURE_STORAGE_CONTAINER", c.Blob.Azure.Container)
	c.Blob.Peer.URL = envStr("PEER_UPLOAD_URL", c.Blob.Peer.URL)
}
