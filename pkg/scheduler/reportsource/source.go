/*
Copyright 2022 The Koordinator Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reportsource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/koordinator-sh/fleet-scheduler/apis/scheduling/v1alpha1"
)

// Sink receives the reports read from disk. *hoststate.Manager implements it.
type Sink interface {
	UpdateReport(report *v1alpha1.HostCapabilityReport) error
	RemoveHost(host, node string) bool
}

type fileState struct {
	modTime time.Time
	size    int64
	host    v1alpha1.HostNode
}

// FileSource feeds the capability reports found in one directory into a Sink.
// A file is applied again only when its size or modification time changed, so a host
// whose reporter stopped writing expires from the Sink as usual.
type FileSource struct {
	dir    string
	resync time.Duration
	sink   Sink

	lock  sync.Mutex
	files map[string]fileState
}

func NewFileSource(dir string, resync time.Duration, sink Sink) *FileSource {
	return &FileSource{
		dir:    dir,
		resync: resync,
		sink:   sink,
		files:  map[string]fileState{},
	}
}

// IsReportFile reports whether name looks like a capability report.
func IsReportFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ReadReportFile decodes a YAML or JSON capability report.
func ReadReportFile(path string) (*v1alpha1.HostCapabilityReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	report := &v1alpha1.HostCapabilityReport{}
	if err := yaml.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return report, nil
}

// WriteReportFile writes report to path through a temporary file, so that readers never
// see a partial report.
func WriteReportFile(path string, report *v1alpha1.HostCapabilityReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadAll applies every new or changed report in the directory and forgets the hosts
// whose report file disappeared. Errors of single files do not stop the others.
func (s *FileSource) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list report directory %s: %w", s.dir, err)
	}

	present := map[string]bool{}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsReportFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		present[path] = true
		paths = append(paths, path)
	}

	// forget vanished files before loading, a host may have moved to another file
	s.lock.Lock()
	var gone []string
	for path := range s.files {
		if !present[path] {
			gone = append(gone, path)
		}
	}
	s.lock.Unlock()
	sort.Strings(gone)
	for _, path := range gone {
		s.Forget(path)
	}

	var errs error
	for _, path := range paths {
		errs = multierr.Append(errs, s.LoadFile(path))
	}
	return errs
}

// LoadFile applies one report file if it changed since it was last applied. A report
// naming a host that another file already reports is rejected.
func (s *FileSource) LoadFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	s.lock.Lock()
	last, seen := s.files[path]
	s.lock.Unlock()
	if seen && last.modTime.Equal(info.ModTime()) && last.size == info.Size() {
		return nil
	}

	report, err := ReadReportFile(path)
	if err != nil {
		return err
	}
	host := v1alpha1.HostNode{Host: report.Host, Node: report.Node}

	s.lock.Lock()
	defer s.lock.Unlock()
	if owner := s.ownerOf(host, path); owner != "" {
		return fmt.Errorf("report %s names host %s already reported by %s", path, report.Host, owner)
	}
	if err := s.sink.UpdateReport(report); err != nil {
		return fmt.Errorf("failed to apply report %s: %w", path, err)
	}
	s.files[path] = fileState{modTime: info.ModTime(), size: info.Size(), host: host}

	// the file may have been rewritten for another host
	if seen && !sameHost(last.host, host) {
		s.sink.RemoveHost(last.host.Host, last.host.Node)
	}
	klog.V(4).InfoS("Loaded capability report", "file", path, "host", report.Host, "node", report.Node)
	return nil
}

// ownerOf returns the file other than path that reports host. Each host is fed by one
// file at a time; the caller holds the lock.
func (s *FileSource) ownerOf(host v1alpha1.HostNode, path string) string {
	for p, st := range s.files {
		if p != path && sameHost(st.host, host) {
			return p
		}
	}
	return ""
}

func sameHost(a, b v1alpha1.HostNode) bool {
	if a.Node == "" {
		a.Node = a.Host
	}
	if b.Node == "" {
		b.Node = b.Host
	}
	return a == b
}

// Forget removes the host reported by path from the Sink.
func (s *FileSource) Forget(path string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	last, ok := s.files[path]
	if !ok {
		return
	}
	delete(s.files, path)
	if s.sink.RemoveHost(last.host.Host, last.host.Node) {
		klog.InfoS("Removed host with deleted report", "file", path, "host", last.host.Host, "node", last.host.Node)
	}
}

// Run loads the directory, then follows its changes until stopCh is closed. A periodic
// resync catches events the watcher dropped.
func (s *FileSource) Run(stopCh <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create report watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch report directory %s: %w", s.dir, err)
	}

	if err := s.LoadAll(); err != nil {
		klog.ErrorS(err, "Failed to load some capability reports", "dir", s.dir)
	}
	if s.resync > 0 {
		go wait.Until(func() {
			if err := s.LoadAll(); err != nil {
				klog.ErrorS(err, "Failed to resync capability reports", "dir", s.dir)
			}
		}, s.resync, stopCh)
	}

	klog.InfoS("Watching capability reports", "dir", s.dir, "resync", s.resync)
	for {
		select {
		case <-stopCh:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			klog.ErrorS(err, "Report watcher error", "dir", s.dir)
		}
	}
}

func (s *FileSource) handleEvent(event fsnotify.Event) {
	if !IsReportFile(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		s.Forget(event.Name)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if err := s.LoadFile(event.Name); err != nil {
			klog.ErrorS(err, "Failed to load capability report", "file", event.Name)
		}
	}
}
