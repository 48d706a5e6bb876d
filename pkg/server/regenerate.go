package server

import (
	"net/http"
	"time"
)

// handleRegenerate triggers a new pipeline run. Remote mode dispatches the
// event and returns; local mode starts one in-process run at a time.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.jobMu.Lock()
		job := s.lastJob
		if s.job != nil {
			job = s.job
		}
		s.jobMu.Unlock()
		if job == nil {
			jsonResponse(w, http.StatusOK, map[string]string{"status": "idle", "mode": s.opts.Mode})
			return
		}
		jsonResponse(w, http.StatusOK, job)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch s.opts.Mode {
	case ModeLocal:
		s.regenerateLocal(w)
	default:
		s.regenerateRemote(w, r)
	}
}

func (s *Server) regenerateRemote(w http.ResponseWriter, r *http.Request) {
	if s.opts.Dispatcher == nil {
		jsonError(w, "remote regeneration not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.opts.Dispatcher.Trigger(r.Context(), map[string]interface{}{"source": "taxiflow-viewer"}); err != nil {
		s.logger.Error("dispatch failed", "error", err)
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.logger.Info("regeneration dispatched")
	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) regenerateLocal(w http.ResponseWriter) {
	if s.opts.LocalRun == nil {
		jsonError(w, "local regeneration not configured", http.StatusServiceUnavailable)
		return
	}

	s.jobMu.Lock()
	if s.job != nil {
		job := *s.job
		s.jobMu.Unlock()
		jsonResponse(w, http.StatusConflict, map[string]interface{}{"status": "busy", "job": job})
		return
	}
	job := &Job{Status: "running", StartTime: time.Now()}
	s.job = job
	s.wg.Add(1)
	s.jobMu.Unlock()

	go s.runLocal(job)

	s.events.Publish("regenerate", job)
	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) runLocal(job *Job) {
	defer s.wg.Done()

	start := time.Now()
	err := s.opts.LocalRun(s.ctx)

	s.jobMu.Lock()
	done := *job
	end := time.Now()
	done.EndTime = &end
	if err != nil {
		done.Status = "failed"
		done.Error = err.Error()
	} else {
		done.Status = "succeeded"
	}
	s.job = nil
	s.lastJob = &done
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error("local regeneration failed", "error", err, "duration", time.Since(start))
		s.events.Publish("regenerate", done)
		return
	}
	s.logger.Info("local regeneration finished", "duration", time.Since(start))
	s.Reload()
	s.events.Publish("regenerate", done)
}
