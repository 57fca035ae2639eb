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

package services

import (
	"fmt"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

const (
	pluginsPathPrefix = "/apis/v1/plugins"
	debugPathPrefix   = "/apis/v1/__debug__"
)

// Plugin is anything with a stable name that may expose endpoints.
type Plugin interface {
	Name() string
}

// APIServiceProvider is implemented by components that serve their internal state
// under /apis/v1/plugins/<name>.
type APIServiceProvider interface {
	RegisterEndpoints(group *gin.RouterGroup)
}

// DebugSetter changes a debug knob at runtime and returns a human readable result.
type DebugSetter func(val string) (string, error)

type ErrorMessage struct {
	Message string `json:"message,omitempty"`
}

func ResponseErrorMessage(c *gin.Context, code int, format string, args ...interface{}) {
	var e ErrorMessage
	e.Message = fmt.Sprintf(format, args...)
	c.JSON(code, e)
}

type Engine struct {
	engine *gin.Engine

	lock                sync.Mutex
	registeredProviders map[string]APIServiceProvider
	debugSetters        map[string]DebugSetter
}

func NewEngine(engine *gin.Engine) *Engine {
	e := &Engine{
		engine:              engine,
		registeredProviders: map[string]APIServiceProvider{},
		debugSetters:        map[string]DebugSetter{},
	}
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	engine.GET(pluginsPathPrefix, e.listProviders)
	engine.PUT(path.Join(debugPathPrefix, ":name", ":value"), e.setDebug)
	return e
}

// Handler returns the underlying http.Handler.
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// RegisterPluginService registers the endpoints of plugin if it is an APIServiceProvider.
// A plugin name is registered only once even when several owners share it.
func (e *Engine) RegisterPluginService(plugin Plugin, owner string) {
	provider, ok := plugin.(APIServiceProvider)
	if !ok {
		return
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	name := plugin.Name()
	if _, exists := e.registeredProviders[name]; exists {
		klog.V(4).InfoS("Skip registering duplicated plugin service", "plugin", name, "owner", owner)
		return
	}
	group := e.engine.Group(path.Join(pluginsPathPrefix, name))
	provider.RegisterEndpoints(group)
	e.registeredProviders[name] = provider
	klog.V(4).InfoS("Registered plugin service", "plugin", name, "owner", owner)
}

// RegisterDebugSetter exposes setter as PUT /apis/v1/__debug__/<name>/<value>.
func (e *Engine) RegisterDebugSetter(name string, setter DebugSetter) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.debugSetters[name] = setter
}

func (e *Engine) listProviders(c *gin.Context) {
	e.lock.Lock()
	names := make([]string, 0, len(e.registeredProviders))
	for name := range e.registeredProviders {
		names = append(names, name)
	}
	e.lock.Unlock()
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"plugins": names})
}

func (e *Engine) setDebug(c *gin.Context) {
	name := c.Param("name")
	e.lock.Lock()
	setter, ok := e.debugSetters[name]
	e.lock.Unlock()
	if !ok {
		ResponseErrorMessage(c, http.StatusNotFound, "unknown debug flag %q", name)
		return
	}
	msg, err := setter(c.Param("value"))
	if err != nil {
		ResponseErrorMessage(c, http.StatusBadRequest, "%s", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
