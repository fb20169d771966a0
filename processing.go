package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/jsign/gas-profiler/analysis"
	"github.com/jsign/gas-profiler/analysis/profiler"
)

type codeSource interface {
	Code(ctx context.Context, addr common.Address) ([]byte, error)
}

type sourceSource interface {
	SourceCode(ctx context.Context, addr common.Address) (*analysis.ContractInfo, error)
}

// contractMetadata joins the verified sources from the explorer with the
// deployed bytecode from the node.
type contractMetadata struct {
	code    codeSource
	sources sourceSource
}

func (m contractMetadata) FetchContractMetadata(ctx context.Context, addr common.Address) (*analysis.ContractMetadata, error) {
	info, err := m.sources.SourceCode(ctx, addr)
	if err != nil {
		return nil, err
	}
	code, err := m.code.Code(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &analysis.ContractMetadata{ContractInfo: *info, Bytecode: code}, nil
}

type profileRunner interface {
	Profile(ctx context.Context, addr common.Address) (*profiler.Report, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func profileHandler(p profileRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addrParam := chi.URLParam(r, "address")
		if !common.IsHexAddress(addrParam) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_ADDRESS"})
			return
		}
		addr := common.HexToAddress(addrParam)

		report, err := p.Profile(r.Context(), addr)
		if err != nil {
			kind := profiler.Kind(err)
			status := http.StatusOK
			if kind == "INTERNAL_ERROR" {
				status = http.StatusInternalServerError
			}
			log.WithError(err).WithField("address", addr.Hex()).Warnf("Profiling failed: %s", kind)
			writeJSON(w, status, errorResponse{Error: kind})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
