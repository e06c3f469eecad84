package ai

import (
	"net/http"
	"strings"

	"pomelo/internal/model"
)

// ProviderSpec provider 差异描述 - chat_completions 家族的所有方言差异
// 都收敛在这张表里，适配器主体保持 provider 无关
type ProviderSpec struct {
	Name string

	// DefaultHost 未配置 Key.Host 时使用的 base url
	DefaultHost string

	// Endpoint 构造 chat completions 请求地址
	Endpoint func(def *model.ModelDef) string

	// Authorize 设置认证头
	Authorize func(req *http.Request, secret string)

	// ReasoningProp delta 中承载推理文本的属性名
	ReasoningProp string

	// ReplayReasoning 回放历史时是否把思考内容注入请求（MiniMax 方言）
	ReplayReasoning bool

	// MutateBody 请求体的最后加工
	MutateBody func(def *model.ModelDef, body map[string]any)
}

func bearerAuth(req *http.Request, secret string) {
	req.Header.Set("Authorization", "Bearer "+secret)
}

func hostOf(def *model.ModelDef, fallback string) string {
	if def.Key.Host != "" {
		return strings.TrimRight(def.Key.Host, "/")
	}
	return fallback
}

func standardEndpoint(fallback string) func(def *model.ModelDef) string {
	return func(def *model.ModelDef) string {
		return hostOf(def, fallback) + "/chat/completions"
	}
}

var providers = map[string]ProviderSpec{
	"openai": {
		Name:          "openai",
		DefaultHost:   "https://api.openai.com/v1",
		Endpoint:      standardEndpoint("https://api.openai.com/v1"),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning_content",
	},
	"azure": {
		Name:        "azure",
		DefaultHost: "",
		Endpoint: func(def *model.ModelDef) string {
			return hostOf(def, "") + "/openai/deployments/" + def.DeploymentName +
				"/chat/completions?api-version=2024-10-21"
		},
		Authorize: func(req *http.Request, secret string) {
			req.Header.Set("api-key", secret)
		},
		ReasoningProp: "reasoning_content",
	},
	"deepseek": {
		Name:          "deepseek",
		DefaultHost:   "https://api.deepseek.com/v1",
		Endpoint:      standardEndpoint("https://api.deepseek.com/v1"),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning_content",
	},
	"minimax": {
		Name:            "minimax",
		DefaultHost:     "https://api.minimax.chat/v1",
		Endpoint:        standardEndpoint("https://api.minimax.chat/v1"),
		Authorize:       bearerAuth,
		ReasoningProp:   "reasoning_content",
		ReplayReasoning: true,
		MutateBody: func(def *model.ModelDef, body map[string]any) {
			// 要求上游把思考与回答拆分为独立字段下发
			body["reasoning_split"] = true
		},
	},
	"qwen": {
		Name:          "qwen",
		DefaultHost:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Endpoint:      standardEndpoint("https://dashscope.aliyuncs.com/compatible-mode/v1"),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning_content",
	},
	"zhipu": {
		Name:          "zhipu",
		DefaultHost:   "https://open.bigmodel.cn/api/paas/v4",
		Endpoint:      standardEndpoint("https://open.bigmodel.cn/api/paas/v4"),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning_content",
	},
	"siliconflow": {
		Name:          "siliconflow",
		DefaultHost:   "https://api.siliconflow.cn/v1",
		Endpoint:      standardEndpoint("https://api.siliconflow.cn/v1"),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning_content",
	},
	"openrouter": {
		Name:          "openrouter",
		DefaultHost:   "https://openrouter.ai/api/v1",
		Endpoint:      standardEndpoint("https://openrouter.ai/api/v1"),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning",
	},
}

// LookupProvider 按名取 provider 描述，未注册的走 openai 兼容缺省
// （要求配置了 Key.Host）
func LookupProvider(name string) (ProviderSpec, error) {
	if spec, ok := providers[name]; ok {
		return spec, nil
	}
	if name == "" {
		return ProviderSpec{}, &ConfigError{Reason: "empty provider name"}
	}
	return ProviderSpec{
		Name:          name,
		Endpoint:      standardEndpoint(""),
		Authorize:     bearerAuth,
		ReasoningProp: "reasoning_content",
	}, nil
}
