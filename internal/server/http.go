package server

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"strconv"

	"xinyuan_tech/billing-service/internal/auth"
	"xinyuan_tech/billing-service/internal/conf"
	bizerrors "xinyuan_tech/billing-service/internal/errors"
	"xinyuan_tech/billing-service/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Bootstrap,
	ledger *service.LedgerService,
	metering *service.MeteringService,
	scheduler *service.SchedulerService,
	bridge *service.BridgeService,
	logger log.Logger,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			callerMiddleware(),
		),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server.Http.Addr != "" {
		opts = append(opts, http.Address(c.Server.Http.Addr))
	}
	srv := http.NewServer(opts...)

	registerLedgerRoutes(srv, ledger)
	registerMeteringRoutes(srv, metering)
	registerSchedulerRoutes(srv, scheduler)
	registerBridgeRoutes(srv, bridge)

	// 注册健康检查端点
	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{"status": "ok", "service": "billing-service"})
	})

	return srv
}

// callerMiddleware 从请求头提取调用方身份写入 context.
// 生产环境由网关完成鉴权后注入这两个头.
func callerMiddleware() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if tr, ok := transport.FromServerContext(ctx); ok {
				header := tr.RequestHeader()
				if raw := header.Get("X-Caller-Id"); raw != "" {
					callerID, err := strconv.ParseUint(raw, 10, 64)
					if err == nil {
						role := auth.RoleUser
						if header.Get("X-Caller-Role") == string(auth.RoleAdmin) {
							role = auth.RoleAdmin
						}
						ctx = auth.WithCaller(ctx, callerID, role)
					}
				}
			}
			return handler(ctx, req)
		}
	}
}

// reply 通过服务端中间件链执行业务调用并编码结果
func reply(ctx http.Context, fn func(c context.Context) (interface{}, error)) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return fn(c)
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

type emptyReply struct{}

func registerLedgerRoutes(srv *http.Server, svc *service.LedgerService) {
	r := srv.Route("/v1")

	r.POST("/plans", func(ctx http.Context) error {
		var req service.CreatePlanRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.CreatePlan(c, &req)
		})
	})

	r.PUT("/plans/{id}", func(ctx http.Context) error {
		var req service.UpdatePlanRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		id, err := pathUint64(ctx, "id")
		if err != nil {
			return err
		}
		req.PlanID = id
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.UpdatePlan(c, &req)
		})
	})

	r.DELETE("/plans/{id}", func(ctx http.Context) error {
		id, err := pathUint64(ctx, "id")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.DeactivatePlan(c, id)
		})
	})

	r.GET("/plans", func(ctx http.Context) error {
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.ListPlans(c)
		})
	})

	r.POST("/subscriptions", func(ctx http.Context) error {
		var req service.SubscribeRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.Subscribe(c, &req)
		})
	})

	r.POST("/subscriptions/renew", func(ctx http.Context) error {
		var req service.RenewRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.Renew(c, &req)
		})
	})

	r.POST("/subscriptions/cancel", func(ctx http.Context) error {
		var req service.RenewRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.Cancel(c, &req)
		})
	})

	r.POST("/subscriptions/auto_renew", func(ctx http.Context) error {
		var req service.SetAutoRenewRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.SetAutoRenew(c, &req)
		})
	})

	r.GET("/subscriptions/{account}/{plan}/status", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		plan, err := pathUint64(ctx, "plan")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			active, err := svc.SubscriptionStatus(c, account, plan)
			if err != nil {
				return nil, err
			}
			return map[string]bool{"active": active}, nil
		})
	})

	r.GET("/subscriptions/{account}", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.ListSubscriptions(c, account)
		})
	})

	r.GET("/accounts/{account}/history", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		page := queryInt(ctx, "page", 1)
		pageSize := queryInt(ctx, "page_size", 20)
		return reply(ctx, func(c context.Context) (interface{}, error) {
			events, total, err := svc.BillingHistory(c, account, page, pageSize)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"total": total, "events": events}, nil
		})
	})

	r.GET("/settings", func(ctx http.Context) error {
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.GetSettings(c)
		})
	})

	r.PUT("/settings", func(ctx http.Context) error {
		var req service.UpdateSettingsRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.UpdateSettings(c, &req)
		})
	})

	r.POST("/tokens/deposit", func(ctx http.Context) error {
		var req service.TokenRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.DepositToken(c, &req)
		})
	})

	r.POST("/tokens/approve", func(ctx http.Context) error {
		var req service.TokenRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.ApproveToken(c, &req)
		})
	})

	r.GET("/tokens/{account}/balance", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			balance, err := svc.TokenBalance(c, account)
			if err != nil {
				return nil, err
			}
			return map[string]int64{"balance": balance}, nil
		})
	})
}

func registerMeteringRoutes(srv *http.Server, svc *service.MeteringService) {
	r := srv.Route("/v1/metering")

	r.POST("/services", func(ctx http.Context) error {
		var req service.RegisterServiceRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.RegisterService(c, &req)
		})
	})

	r.PUT("/services/{id}", func(ctx http.Context) error {
		var req service.UpdateServiceRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		id, err := pathUint64(ctx, "id")
		if err != nil {
			return err
		}
		req.ServiceID = id
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.UpdateService(c, &req)
		})
	})

	r.GET("/providers/{provider}/services", func(ctx http.Context) error {
		provider, err := pathUint64(ctx, "provider")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.ListProviderServices(c, provider)
		})
	})

	r.POST("/recorders", func(ctx http.Context) error {
		var req service.SetRecorderRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.SetRecorder(c, &req)
		})
	})

	r.POST("/usage", func(ctx http.Context) error {
		var req service.RecordUsageRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.RecordUsage(c, &req)
		})
	})

	r.POST("/usage/batch", func(ctx http.Context) error {
		var req service.BatchRecordUsageRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.BatchRecordUsage(c, &req)
		})
	})

	r.POST("/settle", func(ctx http.Context) error {
		var req service.SettleRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.Settle(c, &req)
		})
	})

	r.POST("/settle/batch", func(ctx http.Context) error {
		var req service.BatchSettleRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.BatchSettle(c, &req)
		})
	})

	r.GET("/accounts/{account}/services/{service}/billing", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		serviceID, err := pathUint64(ctx, "service")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.CurrentBilling(c, account, serviceID)
		})
	})

	r.GET("/accounts/{account}/services/{service}/next_cycle", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		serviceID, err := pathUint64(ctx, "service")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.NextCycle(c, account, serviceID)
		})
	})
}

func registerSchedulerRoutes(srv *http.Server, svc *service.SchedulerService) {
	r := srv.Route("/v1/scheduler")

	r.POST("/accounts", func(ctx http.Context) error {
		var req service.TrackAccountRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.TrackAccount(c, &req)
		})
	})

	r.DELETE("/accounts/{account}", func(ctx http.Context) error {
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.UntrackAccount(c, &service.TrackAccountRequest{AccountID: account})
		})
	})
}

func registerBridgeRoutes(srv *http.Server, svc *service.BridgeService) {
	r := srv.Route("/v1/bridge")

	r.POST("/peers", func(ctx http.Context) error {
		var req service.SetTrustedPeerRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.SetTrustedPeer(c, &req)
		})
	})

	r.POST("/fees/deposit", func(ctx http.Context) error {
		var req service.DepositFeesRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return emptyReply{}, svc.DepositFees(c, &req)
		})
	})

	r.GET("/fees/{domain}", func(ctx http.Context) error {
		domain, err := pathUint64(ctx, "domain")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.FeeBalance(c, domain)
		})
	})

	r.POST("/validation", func(ctx http.Context) error {
		var req service.BridgeSendRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.RequestValidation(c, &req)
		})
	})

	r.POST("/status", func(ctx http.Context) error {
		var req service.BridgeSendRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.SendStatusUpdate(c, &req)
		})
	})

	r.GET("/status/{domain}/{account}/{plan}", func(ctx http.Context) error {
		domain, err := pathUint64(ctx, "domain")
		if err != nil {
			return err
		}
		account, err := pathUint64(ctx, "account")
		if err != nil {
			return err
		}
		plan, err := pathUint64(ctx, "plan")
		if err != nil {
			return err
		}
		return reply(ctx, func(c context.Context) (interface{}, error) {
			return svc.CrossChainStatus(c, domain, account, plan)
		})
	})
}

func pathUint64(ctx http.Context, key string) (uint64, error) {
	raw := ctx.Vars().Get(key)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, kerrors.BadRequest("INVALID_INPUT", "invalid path parameter: "+key)
	}
	return v, nil
}

func queryInt(ctx http.Context, key string, def int) int {
	raw := ctx.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code), se.Reason)
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = se.Message
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	} else if err != nil {
		response["message"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func mapErrorStatus(code int, reason string) int {
	if code >= 100 && code < 600 {
		return code
	}
	switch reason {
	case bizerrors.ReasonNotFound:
		return stdhttp.StatusNotFound
	case bizerrors.ReasonUnauthorized:
		return stdhttp.StatusUnauthorized
	case bizerrors.ReasonStateConflict:
		return stdhttp.StatusConflict
	case bizerrors.ReasonPaymentFailed:
		return stdhttp.StatusPaymentRequired
	case bizerrors.ReasonUntrustedSource:
		return stdhttp.StatusForbidden
	case bizerrors.ReasonSystemPaused:
		return stdhttp.StatusServiceUnavailable
	}
	return stdhttp.StatusBadRequest
}
