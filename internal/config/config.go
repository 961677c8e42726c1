package config

import (
	"time"

	"github.com/brocaar/lorawan/band"
)

// Version defines the ChirpStack Network Simulator version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel int  `mapstructure:"log_level"`
		LogJSON  bool `mapstructure:"log_json"`
	} `mapstructure:"general"`

	Simulator struct {
		Workers         int           `mapstructure:"workers"`
		StatisticsStart time.Duration `mapstructure:"statistics_start"`

		PHY struct {
			Bandwidth       int     `mapstructure:"bandwidth"`
			CodingRate      int     `mapstructure:"coding_rate"`
			PreambleSymbols int     `mapstructure:"preamble_symbols"`
			HeaderDisabled  bool    `mapstructure:"header_disabled"`
			CRCEnabled      bool    `mapstructure:"crc_enabled"`
			NoiseFigure     float64 `mapstructure:"noise_figure"`
		} `mapstructure:"phy"`
	} `mapstructure:"simulator"`

	Redis struct {
		URL        string   `mapstructure:"url"` // deprecated
		Servers    []string `mapstructure:"servers"`
		Cluster    bool     `mapstructure:"cluster"`
		MasterName string   `mapstructure:"master_name"`
		Database   int      `mapstructure:"database"`
		Password   string   `mapstructure:"password"`
		PoolSize   int      `mapstructure:"pool_size"`
		TLSEnabled bool     `mapstructure:"tls_enabled"`
	} `mapstructure:"redis"`

	NetworkServer struct {
		Band struct {
			Name               band.Name `mapstructure:"name"`
			RepeaterCompatible bool      `mapstructure:"repeater_compatible"`
		} `mapstructure:"band"`

		NetworkSettings struct {
			RX1Delay     int   `mapstructure:"rx1_delay"`
			RX1DROffset  int   `mapstructure:"rx1_dr_offset"`
			RX2DR        int   `mapstructure:"rx2_dr"`
			RX2Frequency int64 `mapstructure:"rx2_frequency"`
		} `mapstructure:"network_settings"`

		EventBackend struct {
			Type string `mapstructure:"type"`

			MQTT struct {
				Server               string        `mapstructure:"server"`
				Username             string        `mapstructure:"username"`
				Password             string        `mapstructure:"password"`
				QOS                  uint8         `mapstructure:"qos"`
				CleanSession         bool          `mapstructure:"clean_session"`
				ClientID             string        `mapstructure:"client_id"`
				EventTopic           string        `mapstructure:"event_topic"`
				CommandTopicTemplate string        `mapstructure:"command_topic_template"`
				MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
			} `mapstructure:"mqtt"`

			AMQP struct {
				URL                       string `mapstructure:"url"`
				EventQueueName            string `mapstructure:"event_queue_name"`
				EventRoutingKey           string `mapstructure:"event_routing_key"`
				CommandRoutingKeyTemplate string `mapstructure:"command_routing_key_template"`
			} `mapstructure:"amqp"`
		} `mapstructure:"event_backend"`
	} `mapstructure:"network_server"`

	Metrics struct {
		Timezone string `mapstructure:"timezone"`
		Redis    struct {
			AggregationIntervals []string      `mapstructure:"aggregation_intervals"`
			MinuteAggregationTTL time.Duration `mapstructure:"minute_aggregation_ttl"`
			HourAggregationTTL   time.Duration `mapstructure:"hour_aggregation_ttl"`
			DayAggregationTTL    time.Duration `mapstructure:"day_aggregation_ttl"`
			MonthAggregationTTL  time.Duration `mapstructure:"month_aggregation_ttl"`
		} `mapstructure:"redis"`
	} `mapstructure:"metrics"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}

// C holds the global configuration.
var C Config
