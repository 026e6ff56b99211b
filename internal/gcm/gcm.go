// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcm pushes kernel scheduler statistics to Google Cloud
// Monitoring as custom metrics, for deployments that run the scheduler
// simulation as a long-lived benchmark service rather than a one-shot
// test binary.
package gcm

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	cloudmonitoring "google.golang.org/api/monitoring/v3"
)

const (
	customMetricPrefix = "custom.googleapis.com"
)

type labelData struct {
	key         string
	description string
}

var aggLabelData = []labelData{
	{
		key:         "aggregation",
		description: "The aggregation type (min, max, avg, sum, count)",
	},
}

// customMetricDescriptors is a map from a metric's short name to its
// MetricDescriptor definition. Each entry corresponds to a statistic
// emitted by the scheduler's internal/metrics package.
var customMetricDescriptors = map[string]*cloudmonitoring.MetricDescriptor{
	// The number of threads on the ready queue, sampled per tick.
	"ready-queue-depth": createMetric("scheduler/ready_queue_depth", "Number of runnable threads waiting to be dispatched.", "double", true, nil),

	// The number of threads parked in the sleep structure, sampled per tick.
	"sleep-queue-depth": createMetric("scheduler/sleep_queue_depth", "Number of threads blocked in timer_sleep.", "double", true, nil),

	// The system load average, as computed by the MLFQS governor.
	"load-avg": createMetric("scheduler/load_avg", "Exponentially weighted moving average of the ready queue length.", "double", true, nil),

	// Per-thread recent_cpu, reported for the currently running thread.
	"recent-cpu": createMetric("scheduler/recent_cpu", "Recent CPU usage estimate for the running thread.", "double", true, []labelData{
		{key: "thread_name", description: "The name of the thread this sample belongs to"},
	}),

	// A running count of voluntary and involuntary context switches.
	"context-switches": createMetric("scheduler/context_switches", "Cumulative count of dispatcher context switches.", "int64", true, nil),

	// The depth of priority donation chains observed at lock acquisition time.
	"donation-depth": createMetric("scheduler/donation_depth", "Depth of the priority donation chain walked on lock_acquire.", "double", true, nil),

	"donation-depth-agg": createMetric("scheduler/donation_depth-agg", "Aggregated donation chain depth across a run.", "double", false, aggLabelData),
}

func createMetric(metricType, description, valueType string, includeInstanceLabels bool, extraLabels []labelData) *cloudmonitoring.MetricDescriptor {
	labels := []*cloudmonitoring.LabelDescriptor{}
	if includeInstanceLabels {
		labels = append(labels, &cloudmonitoring.LabelDescriptor{
			Key:         "scenario",
			Description: "The name of the scenario being benchmarked.",
			ValueType:   "string",
		})
	}
	labels = append(labels, &cloudmonitoring.LabelDescriptor{
		Key:         "metric_name",
		Description: "The name of the metric.",
		ValueType:   "string",
	})
	for _, data := range extraLabels {
		labels = append(labels, &cloudmonitoring.LabelDescriptor{
			Key:         data.key,
			Description: data.description,
			ValueType:   "string",
		})
	}

	return &cloudmonitoring.MetricDescriptor{
		Type:        fmt.Sprintf("%s/kpintos/%s", customMetricPrefix, metricType),
		Description: description,
		MetricKind:  "gauge",
		ValueType:   valueType,
		Labels:      labels,
	}
}

// GetMetric gets the custom metric descriptor with the given name and project.
func GetMetric(name, project string) (*cloudmonitoring.MetricDescriptor, error) {
	md, ok := customMetricDescriptors[name]
	if !ok {
		return nil, fmt.Errorf("metric %q doesn't exist", name)
	}
	md.Name = fmt.Sprintf("projects/%s/metricDescriptors/%s", project, md.Type)
	return md, nil
}

// GetSortedMetricNames gets the sorted metric names.
func GetSortedMetricNames() []string {
	names := []string{}
	for n := range customMetricDescriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func createClient(keyFilePath string) (*http.Client, error) {
	if len(keyFilePath) > 0 {
		data, err := ioutil.ReadFile(keyFilePath)
		if err != nil {
			return nil, err
		}
		conf, err := google.JWTConfigFromJSON(data, cloudmonitoring.MonitoringScope)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT config file: %v", err)
		}
		return conf.Client(oauth2.NoContext), nil
	}

	return google.DefaultClient(oauth2.NoContext, cloudmonitoring.MonitoringScope)
}

// Authenticate authenticates with the given JSON credentials file (or the
// default client if the file is not provided). If successful, it returns a
// service object that can be used in GCM API calls.
func Authenticate(keyFilePath string) (*cloudmonitoring.Service, error) {
	c, err := createClient(keyFilePath)
	if err != nil {
		return nil, err
	}
	s, err := cloudmonitoring.New(c)
	if err != nil {
		return nil, fmt.Errorf("New() failed: %v", err)
	}
	return s, nil
}

// Snapshot is one sampling of the scheduler counters this package knows
// how to push, taken from internal/metrics' underlying kernel state at a
// single instant.
type Snapshot struct {
	Scenario        string
	ReadyQueueDepth float64
	SleepQueueDepth float64
	LoadAvg         float64
	ContextSwitches int64
}

// buildTimeSeriesRequest renders snap as a CreateTimeSeriesRequest, one
// series per counter, each carrying a single point timestamped now. It is
// split out from Push so the request shape can be checked without an
// actual Cloud Monitoring round trip.
func buildTimeSeriesRequest(snap Snapshot, now time.Time) *cloudmonitoring.CreateTimeSeriesRequest {
	endTime := now.UTC().Format(time.RFC3339Nano)
	point := func(v float64) []*cloudmonitoring.Point {
		return []*cloudmonitoring.Point{{
			Interval: &cloudmonitoring.TimeInterval{EndTime: endTime},
			Value:    &cloudmonitoring.TypedValue{DoubleValue: v},
		}}
	}
	labels := map[string]string{"scenario": snap.Scenario}
	metric := func(name string) *cloudmonitoring.Metric {
		return &cloudmonitoring.Metric{Type: customMetricDescriptors[name].Type, Labels: labels}
	}

	return &cloudmonitoring.CreateTimeSeriesRequest{
		TimeSeries: []*cloudmonitoring.TimeSeries{
			{
				Metric:     metric("ready-queue-depth"),
				MetricKind: "GAUGE",
				ValueType:  "DOUBLE",
				Resource:   &cloudmonitoring.MonitoredResource{Type: "global"},
				Points:     point(snap.ReadyQueueDepth),
			},
			{
				Metric:     metric("sleep-queue-depth"),
				MetricKind: "GAUGE",
				ValueType:  "DOUBLE",
				Resource:   &cloudmonitoring.MonitoredResource{Type: "global"},
				Points:     point(snap.SleepQueueDepth),
			},
			{
				Metric:     metric("load-avg"),
				MetricKind: "GAUGE",
				ValueType:  "DOUBLE",
				Resource:   &cloudmonitoring.MonitoredResource{Type: "global"},
				Points:     point(snap.LoadAvg),
			},
			{
				Metric:     metric("context-switches"),
				MetricKind: "GAUGE",
				ValueType:  "DOUBLE",
				Resource:   &cloudmonitoring.MonitoredResource{Type: "global"},
				Points:     point(float64(snap.ContextSwitches)),
			},
		},
	}
}

// Push sends one gauge/counter time series point per field of snap to
// Cloud Monitoring, using the descriptors in customMetricDescriptors to
// resolve each metric's Type. It does not create the descriptors first —
// GetMetric is for callers that need to register them up front; Push
// assumes that has already happened, or that the project accepts writes
// against unregistered custom metric types (Cloud Monitoring auto-creates
// the descriptor from the first write in that case).
func Push(s *cloudmonitoring.Service, project string, snap Snapshot) error {
	req := buildTimeSeriesRequest(snap, time.Now())
	_, err := s.Projects.TimeSeries.Create(fmt.Sprintf("projects/%s", project), req).Do()
	return err
}
