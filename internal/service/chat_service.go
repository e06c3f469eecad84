package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/ai"
	"pomelo/internal/balance"
	"pomelo/internal/model"
	"pomelo/internal/pkg/id"
	"pomelo/internal/pkg/storage"
	"pomelo/internal/repository"
)

// 请求级校验错误，SSE 开始前返回
var (
	ErrEmptyUserMessage = errors.New("user message is empty")
	ErrNoEnabledSpans   = errors.New("chat has no enabled spans")
	ErrTooManySpans     = errors.New("too many enabled spans")
	ErrSpanNotFound     = errors.New("span not found")
	ErrDuplicateSpan    = errors.New("duplicate span id")
	ErrModelNotGranted  = errors.New("model not granted or grant expired")
	ErrBadParent        = errors.New("invalid parent message")
)

// Emit 向客户端写一条 SSE 事件，客户端断开时返回错误
type Emit func(line model.SseLine) error

// AdapterFactory 按模型定义构造上游适配器
type AdapterFactory func(def *model.ModelDef) (ai.Adapter, error)

// ChatService 会话编排服务
// 职责: 把一个回合扇出到 N 个 span 并发生成，合并为一条 SSE 流，
// 维护消息树与叶子指针，并对共享配额做结算
type ChatService struct {
	chatRepo      *repository.ChatRepo
	messageRepo   *repository.MessageRepo
	userModelRepo *repository.UserModelRepo
	balanceRepo   *repository.BalanceRepo
	modelDefRepo  *repository.ModelDefRepo
	stopService   *StopService
	store         storage.Storage

	adapterFactory AdapterFactory
	maxSpans       int
	titleDelay     time.Duration
}

// NewChatService 创建会话编排服务
func NewChatService(
	chatRepo *repository.ChatRepo,
	messageRepo *repository.MessageRepo,
	userModelRepo *repository.UserModelRepo,
	balanceRepo *repository.BalanceRepo,
	modelDefRepo *repository.ModelDefRepo,
	stopService *StopService,
	store storage.Storage,
	maxSpans int,
	titleDelay time.Duration,
) *ChatService {
	return &ChatService{
		chatRepo:       chatRepo,
		messageRepo:    messageRepo,
		userModelRepo:  userModelRepo,
		balanceRepo:    balanceRepo,
		modelDefRepo:   modelDefRepo,
		stopService:    stopService,
		store:          store,
		adapterFactory: ai.NewAdapter,
		maxSpans:       maxSpans,
		titleDelay:     titleDelay,
	}
}

// SetAdapterFactory 替换适配器构造函数
func (s *ChatService) SetAdapterFactory(f AdapterFactory) {
	s.adapterFactory = f
}

// genSpan 本次要生成的一个 span 及其模型定义
type genSpan struct {
	span model.ChatSpan
	def  *model.ModelDef
}

// maxSpanID 本次生成里编号最大的 span
// 叶子指针只跟随它，与 span 的存储顺序无关
func maxSpanID(toGenerate []genSpan) byte {
	max := toGenerate[0].span.SpanID
	for _, gs := range toGenerate[1:] {
		if gs.span.SpanID > max {
			max = gs.span.SpanID
		}
	}
	return max
}

// spanEvent 合并通道上的一条事件：片段或 span 终结
type spanEvent struct {
	SpanID byte
	Seg    *ai.Segment
	End    *spanEnd
}

type spanEnd struct {
	inflight *InflightSpan
	errText  string
}

// Turn 新回合：向所有启用的 span 并发生成
func (s *ChatService) Turn(ctx context.Context, userID string, req *model.TurnRequest, emit Emit) error {
	// 纯文件、纯空白的提交一律拒绝：至少要有一段非空文本
	if !req.HasText() {
		return ErrEmptyUserMessage
	}

	chat, err := s.chatRepo.FindByIDForUser(ctx, req.ChatID, userID)
	if err != nil {
		return err
	}

	spans := chat.EnabledSpans()
	if len(spans) == 0 {
		return ErrNoEnabledSpans
	}
	if s.maxSpans > 0 && len(spans) > s.maxSpans {
		return ErrTooManySpans
	}

	headers, err := s.messageRepo.ListHeadersByChat(ctx, chat.ID)
	if err != nil {
		return err
	}

	// 新回合的父节点要么为空（树根），要么指向一条助手消息
	var parentID *primitive.ObjectID
	if req.ParentMessageID != "" {
		oid, perr := primitive.ObjectIDFromHex(req.ParentMessageID)
		if perr != nil {
			return ErrBadParent
		}
		parent := findHeader(headers, oid)
		if parent == nil || parent.Role != model.MessageRoleAssistant {
			return ErrBadParent
		}
		parentID = &oid
	}

	toGenerate, err := s.resolveDefs(ctx, userID, spans)
	if err != nil {
		return err
	}

	// 用户消息先落库：即使所有 span 失败，提问本身也保留在树上
	userMsg := &model.Message{
		ChatID:   chat.ID,
		ParentID: parentID,
		Role:     model.MessageRoleUser,
		Contents: requestContents(req.UserMessage),
	}
	if err := s.messageRepo.Create(ctx, userMsg); err != nil {
		return err
	}

	// 上下文 = 祖先路径 + 本回合刚提交的用户消息
	history, err := s.buildHistory(ctx, headers, parentID, userMsg)
	if err != nil {
		return err
	}

	return s.runGeneration(ctx, chat, userID, toGenerate, history, userMsg, true, req.FirstText(), emit)
}

// Regenerate 在同一父节点下重新生成：恰好一个 span，可替换模型
func (s *ChatService) Regenerate(ctx context.Context, userID string, req *model.RegenerateRequest, emit Emit) error {
	chat, err := s.chatRepo.FindByIDForUser(ctx, req.ChatID, userID)
	if err != nil {
		return err
	}

	span, ok := chat.FindSpan(req.SpanID)
	if !ok {
		return ErrSpanNotFound
	}
	// 在副本上替换模型，原 span 配置不动
	clone := span.Clone()
	clone.Config.ModelID = req.ModelID

	headers, err := s.messageRepo.ListHeadersByChat(ctx, chat.ID)
	if err != nil {
		return err
	}

	// 重新生成的父节点必须指向一条用户消息
	oid, perr := primitive.ObjectIDFromHex(req.ParentMessageID)
	if perr != nil {
		return ErrBadParent
	}
	parent := findHeader(headers, oid)
	if parent == nil || parent.Role != model.MessageRoleUser {
		return ErrBadParent
	}

	toGenerate, err := s.resolveDefs(ctx, userID, []model.ChatSpan{clone})
	if err != nil {
		return err
	}

	// 父节点是用户消息且就是路径终点，无需再附加待发消息
	history, err := s.buildHistory(ctx, headers, &oid, nil)
	if err != nil {
		return err
	}

	return s.runGeneration(ctx, chat, userID, toGenerate, history, parent, false, "", emit)
}

// Stop 按 stop id 取消生成的流式阶段
func (s *ChatService) Stop(stopID string) bool {
	return s.stopService.TryCancel(stopID)
}

// resolveDefs 加载模型定义并做全有或全无的授权检查
// 任何一个 span 的模型没有有效授权，整个请求拒绝
func (s *ChatService) resolveDefs(ctx context.Context, userID string, spans []model.ChatSpan) ([]genSpan, error) {
	modelIDs := make([]string, 0, len(spans))
	seen := map[string]bool{}
	for _, sp := range spans {
		if !seen[sp.Config.ModelID] {
			seen[sp.Config.ModelID] = true
			modelIDs = append(modelIDs, sp.Config.ModelID)
		}
	}

	defs, err := s.modelDefRepo.FindByModelIDs(ctx, modelIDs)
	if err != nil {
		return nil, err
	}
	grants, err := s.userModelRepo.FindByUserAndModels(ctx, userID, modelIDs)
	if err != nil {
		return nil, err
	}
	granted := map[string]bool{}
	now := time.Now()
	for _, g := range grants {
		if !g.Expired(now) {
			granted[g.ModelID] = true
		}
	}

	out := make([]genSpan, 0, len(spans))
	for _, sp := range spans {
		def, ok := defs[sp.Config.ModelID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrModelNotGranted, sp.Config.ModelID)
		}
		if !granted[sp.Config.ModelID] {
			return nil, fmt.Errorf("%w: %s", ErrModelNotGranted, sp.Config.ModelID)
		}
		out = append(out, genSpan{span: sp, def: def})
	}
	return out, nil
}

func findHeader(headers []*model.Message, oid primitive.ObjectID) *model.Message {
	for _, m := range headers {
		if m.ID == oid {
			return m
		}
	}
	return nil
}

// buildHistory 沿父指针重建上下文路径并批量回填内容
// pending 是尚未进入路径的本回合用户消息，追加在末尾；树根新回合时路径为空
func (s *ChatService) buildHistory(ctx context.Context, headers []*model.Message, leafID *primitive.ObjectID, pending *model.Message) ([]ai.Message, error) {
	var path []*model.Message
	if leafID != nil {
		path = repository.PathToRoot(headers, *leafID)
		if err := s.messageRepo.HydrateContents(ctx, path); err != nil {
			return nil, err
		}
	}
	if pending != nil {
		path = append(path, pending)
	}
	return s.toNeutralMessages(ctx, path), nil
}

// toNeutralMessages 持久化消息转适配器中立格式
func (s *ChatService) toNeutralMessages(ctx context.Context, path []*model.Message) []ai.Message {
	out := make([]ai.Message, 0, len(path))
	for _, m := range path {
		msg := ai.Message{Role: ai.Role(m.Role)}
		for _, c := range m.Contents {
			switch c.Type {
			case model.MessageContentText:
				msg.Contents = append(msg.Contents, ai.TextContent(c.Text))
			case model.MessageContentError:
				// 错误文本按普通文本回放
				msg.Contents = append(msg.Contents, ai.Content{Type: ai.ContentError, Text: c.Error})
			case model.MessageContentThink:
				msg.Contents = append(msg.Contents, ai.ThinkContent(c.Think, c.Signature))
			case model.MessageContentToolCall:
				msg.Contents = append(msg.Contents, ai.ToolCallContent(c.ToolCallID, c.ToolName, c.Args))
			case model.MessageContentToolCallResponse:
				msg.Contents = append(msg.Contents, ai.ToolResponseContent(c.ToolCallID, c.Response))
			case model.MessageContentFile:
				url := c.FileURL
				if url == "" && c.FileKey != "" && s.store != nil {
					if signed, err := s.store.GetPresignedDownloadURL(ctx, c.FileKey, time.Hour); err == nil {
						url = signed
					}
				}
				msg.Contents = append(msg.Contents, ai.Content{Type: ai.ContentFileURL, URL: url, MediaType: c.ContentType})
			}
		}
		if len(msg.Contents) > 0 {
			out = append(out, msg)
		}
	}
	return out
}

func requestContents(items []model.ContentRequestItem) []model.MessageContent {
	out := make([]model.MessageContent, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case model.MessageContentText:
			out = append(out, model.MessageContent{Type: model.MessageContentText, Text: item.Text})
		case model.MessageContentFile:
			out = append(out, model.MessageContent{Type: model.MessageContentFile, FileURL: item.URL, FileKey: item.FileKey})
		}
	}
	return out
}

func callOptions(cfg model.ChatConfig, userID string) ai.CallOptions {
	opts := ai.CallOptions{
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ReasoningEffort: cfg.ReasoningEffort,
		EndUserID:       userID,
	}
	if cfg.WebSearch {
		opts.Tools = append(opts.Tools, ai.ToolDefinition{
			Name:        "web_search",
			Description: "Search the web for up-to-date information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		})
	}
	if cfg.CodeExecution {
		opts.Tools = append(opts.Tools, ai.ToolDefinition{
			Name:        "code_execution",
			Description: "Execute a snippet of code and return its output.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"language": map[string]any{"type": "string"},
					"code":     map[string]any{"type": "string"},
				},
				"required": []string{"code"},
			},
		})
	}
	return opts
}

// runGeneration 扇出-合并主流程
// parentMsg 是全部助手消息的父节点（新回合时为刚落库的用户消息）；
// 流式阶段挂在可取消的 context 上，落库与结算一律走独立 context，
// 客户端取消只能截断流，不能截断收尾
func (s *ChatService) runGeneration(
	ctx context.Context,
	chat *model.Chat,
	userID string,
	toGenerate []genSpan,
	history []ai.Message,
	parentMsg *model.Message,
	newTurn bool,
	titleText string,
	emit Emit,
) error {
	logger := log.With().Str("chat_id", chat.ID.Hex()).Str("user_id", userID).Logger()

	initial, err := s.loadBalanceSnapshot(ctx, userID, toGenerate)
	if err != nil {
		return err
	}
	calc := balance.NewCalculator(initial)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopID := s.stopService.Register(cancel)

	_ = emit(model.SseStopID(stopID))
	if newTurn && parentMsg != nil {
		_ = emit(model.SseUserMessage(parentMsg))
	}

	estimatedInput := ai.EstimateMessageTokens(history)
	producers := make([]spanProducer, 0, len(toGenerate))
	for _, gs := range toGenerate {
		gs := gs
		scoped := calc.Scoped(fmt.Sprintf("span-%d", gs.span.SpanID))
		fl := NewInflightSpan(gs.span.SpanID, gs.def, scoped, estimatedInput)

		msgs := history
		if gs.span.Config.SystemPrompt != "" {
			msgs = append([]ai.Message{ai.SystemMessage(gs.span.Config.SystemPrompt)}, history...)
		}
		opts := callOptions(gs.span.Config, userID)
		producers = append(producers, func(ch chan<- spanEvent, done func()) {
			s.runSpan(streamCtx, gs, msgs, opts, fl, ch, done)
		})
	}

	// 合并消费循环是唯一的 SSE 写者，也是唯一做图片落盘与叶子更新的协程
	finCtx := context.Background()
	lastSpanID := maxSpanID(toGenerate)
	imageCache := map[string]model.MessageContent{}
	started := map[byte]*spanEmitState{}

	fanInSpans(producers, func(ev spanEvent) {
		if ev.Seg != nil {
			s.emitSegment(finCtx, ev.SpanID, *ev.Seg, started, imageCache, emit)
			return
		}
		if ev.End == nil {
			return
		}
		s.finishSpan(finCtx, chat, parentMsg, ev.SpanID, ev.End, imageCache, lastSpanID, emit, &logger)
	})

	s.stopService.Remove(stopID)

	s.settle(finCtx, userID, calc, &logger)

	if titleText != "" && chat.Title == "" {
		s.streamTitle(finCtx, chat, titleText, emit)
	}
	return nil
}

// loadBalanceSnapshot 采集请求开始时的配额与货币余额快照
func (s *ChatService) loadBalanceSnapshot(ctx context.Context, userID string, toGenerate []genSpan) (balance.InitialInfo, error) {
	modelIDs := make([]string, 0, len(toGenerate))
	seen := map[string]bool{}
	for _, gs := range toGenerate {
		if !seen[gs.def.ModelID] {
			seen[gs.def.ModelID] = true
			modelIDs = append(modelIDs, gs.def.ModelID)
		}
	}

	grants, err := s.userModelRepo.FindByUserAndModels(ctx, userID, modelIDs)
	if err != nil {
		return balance.InitialInfo{}, err
	}
	usage := make([]balance.UsageInfo, 0, len(grants))
	for _, g := range grants {
		usage = append(usage, balance.UsageInfo{ModelID: g.ModelID, Counts: g.CountBalance, Tokens: g.TokenBalance})
	}

	ub, err := s.balanceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return balance.InitialInfo{}, err
	}
	return balance.NewInitialInfo(usage, ub.Balance), nil
}

// runSpan 单个 span 的生产者协程
// 退出前必定投递一条 End 事件，然后通过 done 让最后退出者关闭合并通道
func (s *ChatService) runSpan(
	streamCtx context.Context,
	gs genSpan,
	msgs []ai.Message,
	opts ai.CallOptions,
	fl *InflightSpan,
	ch chan<- spanEvent,
	done func(),
) {
	errText := ""
	defer func() {
		fl.Close()
		ch <- spanEvent{SpanID: gs.span.SpanID, End: &spanEnd{inflight: fl, errText: errText}}
		done()
	}()

	if err := fl.Precharge(); err != nil {
		fl.SetFinish(ai.FinishInsufficientBalance)
		errText = "insufficient balance"
		return
	}

	adapter, err := s.adapterFactory(gs.def)
	if err != nil {
		fl.SetFinish(ai.FinishInternalConfigIssue)
		errText = err.Error()
		return
	}

	stream, err := adapter.ChatStreamed(streamCtx, msgs, opts)
	if err != nil {
		var ue *ai.UpstreamError
		var ce *ai.ConfigError
		switch {
		case errors.As(err, &ue):
			fl.SetFinish(ai.FinishUpstreamError)
			errText = ue.Error()
		case errors.As(err, &ce):
			fl.SetFinish(ai.FinishInternalConfigIssue)
			errText = ce.Error()
		case streamCtx.Err() != nil:
			fl.SetFinish(ai.FinishCancelled)
		default:
			fl.SetFinish(ai.FinishUpstreamError)
			errText = err.Error()
		}
		return
	}
	defer stream.Close()

	for {
		seg, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			fl.SetFinish(ai.FinishUpstreamError)
			errText = recvErr.Error()
			return
		}
		if err := fl.Feed(seg); err != nil {
			// 余额耗尽：截断本 span，已生成内容保留
			errText = "insufficient balance"
			return
		}
		if seg.Type == ai.SegUsage || seg.Type == ai.SegFinishReason {
			continue
		}
		select {
		case ch <- spanEvent{SpanID: gs.span.SpanID, Seg: &seg}:
		case <-streamCtx.Done():
			fl.SetFinish(ai.FinishCancelled)
			return
		}
	}

	if fl.Finish() == ai.FinishUnknownError && streamCtx.Err() != nil {
		fl.SetFinish(ai.FinishCancelled)
	}
}

// spanEmitState 合并循环里每个 span 的首片段标记
// 时间戳在消费侧记录，不与生产者协程共享状态
type spanEmitState struct {
	startedResponse bool
	reasoningStart  time.Time
}

// emitSegment 把一个片段转成 SSE 行下发；图片在这里统一落盘去重
func (s *ChatService) emitSegment(
	finCtx context.Context,
	spanID byte,
	seg ai.Segment,
	started map[byte]*spanEmitState,
	imageCache map[string]model.MessageContent,
	emit Emit,
) {
	st := started[spanID]
	if st == nil {
		st = &spanEmitState{}
		started[spanID] = st
	}

	switch seg.Type {
	case ai.SegThink:
		if st.reasoningStart.IsZero() {
			st.reasoningStart = time.Now()
			_ = emit(model.SseStartReasoning(spanID))
		}
		_ = emit(model.SseReasoningSegment(spanID, seg.Think))
	case ai.SegText:
		if !st.startedResponse {
			st.startedResponse = true
			reasoningMs := 0
			if !st.reasoningStart.IsZero() {
				reasoningMs = int(time.Since(st.reasoningStart).Milliseconds())
			}
			_ = emit(model.SseStartResponse(spanID, reasoningMs))
		}
		_ = emit(model.SseSegment(spanID, seg.Text))
	case ai.SegToolCall:
		if seg.ToolCall.ID != "" || seg.ToolCall.Name != "" {
			if !st.startedResponse {
				st.startedResponse = true
				_ = emit(model.SseStartResponse(spanID, 0))
			}
			_ = emit(model.SseCallingTool(spanID, model.CallingToolPayload{
				ToolCallID: seg.ToolCall.ID,
				ToolName:   seg.ToolCall.Name,
				Args:       seg.ToolCall.Args,
			}))
		}
	case ai.SegImage:
		if seg.Image.Preview {
			_ = emit(model.SseImageGenerating(spanID, model.ImagePayload{
				Base64:      seg.Image.Base64,
				ContentType: seg.Image.ContentType,
			}))
			return
		}
		mc := s.materializeImage(finCtx, *seg.Image, imageCache)
		_ = emit(model.SseImageGenerated(spanID, model.ImagePayload{
			Key:         mc.FileKey,
			URL:         mc.FileURL,
			ContentType: mc.ContentType,
		}))
	}
}

// materializeImage 成品图片落盘，按内容键去重 - 仅在合并循环内调用，无并发写
func (s *ChatService) materializeImage(ctx context.Context, img ai.ImageData, cache map[string]model.MessageContent) model.MessageContent {
	if mc, ok := cache[img.Key()]; ok {
		return mc
	}

	mc := model.MessageContent{Type: model.MessageContentFile, ContentType: img.ContentType, FileURL: img.URL}
	if img.Base64 != "" && s.store != nil {
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err == nil {
			key := "chat-images/" + id.New() + ".png"
			if url, err := s.store.Upload(ctx, key, bytes.NewReader(data), img.ContentType); err == nil {
				mc.FileKey = key
				mc.FileURL = url
			} else {
				log.Warn().Err(err).Msg("failed to upload generated image")
			}
		}
	}
	cache[img.Key()] = mc
	return mc
}

// finishSpan span 终结处理：落库助手消息，最高位 span 终结时推进叶子指针
func (s *ChatService) finishSpan(
	finCtx context.Context,
	chat *model.Chat,
	parentMsg *model.Message,
	spanID byte,
	end *spanEnd,
	imageCache map[string]model.MessageContent,
	lastSpanID byte,
	emit Emit,
	logger *zerolog.Logger,
) {
	if end.errText != "" {
		_ = emit(model.SseError(spanID, end.errText))
	}

	fl := end.inflight
	contents := s.segmentsToContents(fl.Items(), imageCache)
	if end.errText != "" {
		contents = append(contents, model.MessageContent{Type: model.MessageContentError, Error: end.errText})
	}

	var parentID *primitive.ObjectID
	if parentMsg != nil {
		pid := parentMsg.ID
		parentID = &pid
	}

	sid := spanID
	msg := &model.Message{
		ChatID:   chat.ID,
		ParentID: parentID,
		Role:     model.MessageRoleAssistant,
		SpanID:   &sid,
		Contents: contents,
		Usage:    fl.ToUsage(),
	}
	if err := s.messageRepo.Create(finCtx, msg); err != nil {
		logger.Error().Err(err).Uint8("span_id", spanID).Msg("failed to persist assistant message")
		return
	}
	_ = emit(model.SseResponseMessage(spanID, msg))

	// 叶子指针恰好推进一次：只有编号最大的 span 终结时更新
	if spanID == lastSpanID {
		if err := s.chatRepo.SetLeaf(finCtx, chat.ID, msg.ID); err != nil {
			logger.Error().Err(err).Msg("failed to update leaf pointer")
		} else {
			_ = emit(model.SseLeafMessageID(msg.ID.Hex()))
		}
	}
}

// segmentsToContents 聚合片段转持久化内容，图片复用合并循环的落盘结果
func (s *ChatService) segmentsToContents(items []ai.Segment, imageCache map[string]model.MessageContent) []model.MessageContent {
	var out []model.MessageContent
	for _, seg := range items {
		switch seg.Type {
		case ai.SegText:
			out = append(out, model.MessageContent{Type: model.MessageContentText, Text: seg.Text})
		case ai.SegThink:
			out = append(out, model.MessageContent{Type: model.MessageContentThink, Think: seg.Think, Signature: seg.Signature})
		case ai.SegToolCall:
			out = append(out, model.MessageContent{
				Type:       model.MessageContentToolCall,
				ToolCallID: seg.ToolCall.ID,
				ToolName:   seg.ToolCall.Name,
				Args:       seg.ToolCall.Args,
			})
		case ai.SegImage:
			if mc, ok := imageCache[seg.Image.Key()]; ok {
				out = append(out, mc)
			}
		}
	}
	return out
}

// settle 结算：货币扣一次，每个模型的配额扣一次
func (s *ChatService) settle(finCtx context.Context, userID string, calc *balance.Calculator, logger *zerolog.Logger) {
	if cost := calc.BalanceCost(); cost > 0 {
		if err := s.balanceRepo.Deduct(finCtx, userID, cost, "chat"); err != nil {
			logger.Error().Err(err).Float64("cost", cost).Msg("failed to settle currency cost")
		}
	}
	for _, u := range calc.UsageCosts() {
		if err := s.userModelRepo.SettleUsage(finCtx, userID, u.ModelID, u.Counts, u.Tokens); err != nil {
			logger.Error().Err(err).Str("model_id", u.ModelID).Msg("failed to settle model usage")
		}
	}
}

// streamTitle 首回合结束后生成标题：逐字符下发再落库
func (s *ChatService) streamTitle(finCtx context.Context, chat *model.Chat, text string, emit Emit) {
	title := deriveTitle(text, 50)
	for _, chunk := range titleChunks(title) {
		_ = emit(model.SseTitleSegment(chunk))
		if s.titleDelay > 0 {
			time.Sleep(s.titleDelay)
		}
	}
	if err := s.chatRepo.SetTitle(finCtx, chat.ID, title); err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID.Hex()).Msg("failed to persist title")
		return
	}
	_ = emit(model.SseUpdateTitle(title))
}
