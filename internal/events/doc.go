// Package events delivers group change notifications after they commit.
//
// A Sink receives one GroupEvent per committed mutation. The MQTT sink tells
// device agents that their group's policy or package set changed; the
// InfluxDB sink records a time series of changes for dashboards. Fanout
// combines several sinks.
//
// Sinks are called outside any database transaction. A failing sink never
// undoes or fails the change it reports.
package events
