package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-network-simulator/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}

# Log in JSON format.
log_json={{ .General.LogJSON }}


# Simulator settings.
[simulator]
# Number of tracker workers.
#
# When set to a value > 1, the packet records are partitioned over this
# number of workers by packet ID.
workers={{ .Simulator.Workers }}

# Statistics start.
#
# Packets sent before this simulation time (minus a grace window of 5s) are
# not taken into account by the statistics report.
statistics_start="{{ .Simulator.StatisticsStart }}"

  # Transmission profile used for the time-on-air and noise calculations.
  [simulator.phy]
  # Bandwidth (Hz).
  bandwidth={{ .Simulator.PHY.Bandwidth }}

  # Coding-rate index (1 = 4/5 ... 4 = 4/8).
  coding_rate={{ .Simulator.PHY.CodingRate }}

  # Number of preamble symbols.
  preamble_symbols={{ .Simulator.PHY.PreambleSymbols }}

  # Implicit header mode.
  header_disabled={{ .Simulator.PHY.HeaderDisabled }}

  # Payload CRC.
  crc_enabled={{ .Simulator.PHY.CRCEnabled }}

  # Receiver noise figure (dB).
  noise_figure={{ .Simulator.PHY.NoiseFigure }}


# Redis settings
#
# Redis is only used for exporting the statistics report. Leave the servers
# empty to disable the export.
[redis]
# Server address or addresses.
#
# Set multiple addresses when connecting to a cluster.
servers=[{{ range $index, $elm := .Redis.Servers }}
  "{{ $elm }}",{{ end }}
]

# Password.
password="{{ .Redis.Password }}"

# Database index.
database={{ .Redis.Database }}

# Redis Cluster.
cluster={{ .Redis.Cluster }}

# Master name (for Redis Sentinel).
master_name="{{ .Redis.MasterName }}"

# Connection pool size.
#
# Default (when set to 0) is 10 connections per every CPU.
pool_size={{ .Redis.PoolSize }}

# TLS enabled.
tls_enabled={{ .Redis.TLSEnabled }}


# Network-server settings.
[network_server]

  # LoRaWAN regional band configuration.
  [network_server.band]
  # LoRaWAN band to use.
  #
  # Valid values are:
  # * AS923
  # * AU915
  # * CN470
  # * CN779
  # * EU433
  # * EU868
  # * IN865
  # * KR920
  # * RU864
  # * US915
  name="{{ .NetworkServer.Band.Name }}"

  # Enforce repeater compatibility.
  repeater_compatible={{ .NetworkServer.Band.RepeaterCompatible }}

  # Network settings.
  [network_server.network_settings]
  # RX1 delay (1 - 15 seconds).
  rx1_delay={{ .NetworkServer.NetworkSettings.RX1Delay }}

  # RX1 data-rate offset.
  rx1_dr_offset={{ .NetworkServer.NetworkSettings.RX1DROffset }}

  # RX2 data-rate (when set to -1, the default rx2 data-rate will be used).
  rx2_dr={{ .NetworkServer.NetworkSettings.RX2DR }}

  # RX2 frequency (Hz) (when set to -1, the default rx2 frequency will be used).
  rx2_frequency={{ .NetworkServer.NetworkSettings.RX2Frequency }}

  # Event backend configuration.
  [network_server.event_backend]
  # Backend type.
  #
  # Valid options are:
  #   * mqtt
  #   * amqp
  type="{{ .NetworkServer.EventBackend.Type }}"

    # MQTT event backend.
    [network_server.event_backend.mqtt]
    # Event topic.
    #
    # The last topic level must equal the event type.
    event_topic="{{ .NetworkServer.EventBackend.MQTT.EventTopic }}"

    # Command topic template.
    command_topic_template="{{ .NetworkServer.EventBackend.MQTT.CommandTopicTemplate }}"

    # MQTT server (e.g. scheme://host:port where scheme is tcp, ssl or ws)
    server="{{ .NetworkServer.EventBackend.MQTT.Server }}"

    # Connect with the given username (optional)
    username="{{ .NetworkServer.EventBackend.MQTT.Username }}"

    # Connect with the given password (optional)
    password="{{ .NetworkServer.EventBackend.MQTT.Password }}"

    # Maximum interval that will be waited between reconnection attempts when connection is lost.
    max_reconnect_interval="{{ .NetworkServer.EventBackend.MQTT.MaxReconnectInterval }}"

    # Quality of service level
    qos={{ .NetworkServer.EventBackend.MQTT.QOS }}

    # Clean session
    clean_session={{ .NetworkServer.EventBackend.MQTT.CleanSession }}

    # Client ID
    client_id="{{ .NetworkServer.EventBackend.MQTT.ClientID }}"

    # AMQP / RabbitMQ event backend.
    [network_server.event_backend.amqp]
    # Server URL.
    url="{{ .NetworkServer.EventBackend.AMQP.URL }}"

    # Event queue name.
    #
    # The queue is declared when it does not exist.
    event_queue_name="{{ .NetworkServer.EventBackend.AMQP.EventQueueName }}"

    # Event routing key.
    #
    # The event queue is bound to the amq.topic exchange with this key.
    event_routing_key="{{ .NetworkServer.EventBackend.AMQP.EventRoutingKey }}"

    # Command routing key template.
    command_routing_key_template="{{ .NetworkServer.EventBackend.AMQP.CommandRoutingKeyTemplate }}"


# Metrics configuration.
[metrics]
# Timezone
#
# The timezone is used for correctly aggregating the metrics (e.g. per hour,
# day or month).
# Example: "Europe/Amsterdam" or "Local" for the the system's local time zone.
timezone="{{ .Metrics.Timezone }}"

  # Metrics stored in Redis.
  [metrics.redis]
  # Aggregation intervals
  #
  # The intervals on which to aggregate. Available options are:
  # 'MINUTE', 'HOUR', 'DAY', 'MONTH'.
  aggregation_intervals=[{{ range $i, $e := .Metrics.Redis.AggregationIntervals }}{{ if $i }}, {{ end }}"{{ $e }}"{{ end }}]

  # Aggregated statistics storage duration.
  minute_aggregation_ttl="{{ .Metrics.Redis.MinuteAggregationTTL }}"
  hour_aggregation_ttl="{{ .Metrics.Redis.HourAggregationTTL }}"
  day_aggregation_ttl="{{ .Metrics.Redis.DayAggregationTTL }}"
  month_aggregation_ttl="{{ .Metrics.Redis.MonthAggregationTTL }}"


# Monitoring settings.
[monitoring]
# IP:port to bind the monitoring endpoint to.
#
# When left blank, the monitoring endpoint will be disabled.
bind="{{ .Monitoring.Bind }}"

# Prometheus metrics endpoint.
#
# When set true, Prometheus metrics will be served at '/metrics'.
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Healthcheck endpoint.
#
# When set to true, the healthcheck endpoint will be served at '/health'.
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the ChirpStack Network Simulator configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
