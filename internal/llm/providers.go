package llm

// BuiltinSnapshot — конфигурации провайдеров по умолчанию, которыми
// засевается пустой реестр при первом запуске. Ключи API пустые:
// их задаёт пользователь через конфигурационный API или файл.
func BuiltinSnapshot() Snapshot {
	return Snapshot{
		Providers: map[string]ProviderRecord{
			"iflow": {
				APIURL:      "https://apis.iflow.cn",
				Model:       "deepseek-v3.1",
				Temperature: Float64(DefaultTemperature),
				MaxTokens:   Int(DefaultMaxTokens),
			},
			"openai": {
				APIURL:      "https://api.openai.com/v1/chat/completions",
				Model:       "gpt-3.5-turbo",
				Temperature: Float64(DefaultTemperature),
				MaxTokens:   Int(DefaultMaxTokens),
			},
		},
		Active: "iflow",
	}
}
